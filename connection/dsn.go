package connection

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/ViktorVelikov13/tenora/dialect"
)

// DSN renders the driver-specific connection string for a descriptor.
func DSN(d Descriptor) (string, error) {
	switch d.Family {
	case dialect.Postgres:
		return postgresDSN(d), nil
	case dialect.MySQL:
		return mysqlDSN(d), nil
	case dialect.SQLite:
		return d.Filename, nil
	case dialect.MSSQL:
		return mssqlDSN(d), nil
	default:
		return "", fmt.Errorf("%w: no DSN form for dialect %q", ErrConfig, d.Family)
	}
}

func postgresDSN(d Descriptor) string {
	u := &url.URL{
		Scheme: "postgres",
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
		Path:   "/" + d.Database,
	}
	if d.Password != nil {
		u.User = url.UserPassword(d.User, *d.Password)
	} else {
		u.User = url.User(d.User)
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func mysqlDSN(d Descriptor) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = d.Host + ":" + strconv.Itoa(d.Port)
	cfg.User = d.User
	if d.Password != nil {
		cfg.Passwd = *d.Password
	}
	cfg.DBName = d.Database
	cfg.ParseTime = true
	if d.SSLMode != "" {
		cfg.TLSConfig = d.SSLMode
	}
	return cfg.FormatDSN()
}

func mssqlDSN(d Descriptor) string {
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
	}
	if d.Password != nil {
		u.User = url.UserPassword(d.User, *d.Password)
	} else {
		u.User = url.User(d.User)
	}
	q := url.Values{}
	if d.Database != "" {
		q.Set("database", d.Database)
	}
	if d.SSLMode != "" {
		q.Set("encrypt", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
