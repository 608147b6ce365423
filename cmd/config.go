package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultPort = 3306

// ConnConfig is one MySQL endpoint, either from the config file's
// connections list or from the command line.
type ConnConfig struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Active   bool   `mapstructure:"active"`
}

// ParseConnString parses user:password@host:port/database. The password
// and port are optional.
func ParseConnString(s string) (*ConnConfig, error) {
	at := strings.LastIndex(s, "@")
	if at < 0 {
		return nil, fmt.Errorf("invalid connection string %q: expected user:password@host:port/database", s)
	}
	cfg := &ConnConfig{Port: defaultPort}

	cred := s[:at]
	if i := strings.Index(cred, ":"); i >= 0 {
		cfg.User, cfg.Password = cred[:i], cred[i+1:]
	} else {
		cfg.User = cred
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("invalid connection string %q: missing user", s)
	}

	addr := s[at+1:]
	if i := strings.Index(addr, "/"); i >= 0 {
		addr, cfg.Database = addr[:i], addr[i+1:]
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		port, err := strconv.Atoi(addr[i+1:])
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port in connection string %q", s)
		}
		addr, cfg.Port = addr[:i], port
	}
	if addr == "" {
		return nil, fmt.Errorf("invalid connection string %q: missing host", s)
	}
	cfg.Host = addr

	return cfg, nil
}

// DSN renders the driver data source name. Times stay in text form so zero
// dates survive the round trip.
func (c *ConnConfig) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.Timeout = 10 * time.Second
	mc.ParseTime = false
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// Identity is the user@host:port form used in logs and metadata.
func (c *ConnConfig) Identity() string {
	return fmt.Sprintf("%s@%s:%d", c.User, c.Host, c.Port)
}

// Addr is the server address, used to recognise two connections to the
// same server whatever the account.
func (c *ConnConfig) Addr() string {
	return net.JoinHostPort(strings.ToLower(c.Host), strconv.Itoa(c.Port))
}

func loadConnections() ([]ConnConfig, error) {
	var configs []ConnConfig
	if err := viper.UnmarshalKey("connections", &configs); err != nil {
		return nil, fmt.Errorf("failed to parse connections config: %w", err)
	}
	for i := range configs {
		if configs[i].Port == 0 {
			configs[i].Port = defaultPort
		}
	}
	return configs, nil
}

// FindConnection returns the named connection from the config file.
func FindConnection(name string) (*ConnConfig, error) {
	configs, err := loadConnections()
	if err != nil {
		return nil, err
	}
	for i := range configs {
		if strings.EqualFold(configs[i].Name, name) {
			return &configs[i], nil
		}
	}
	return nil, fmt.Errorf("connection %q not found in config", name)
}

// GetActiveConnection returns the connection marked active in the config
// file, or nil when none is.
func GetActiveConnection() (*ConnConfig, error) {
	configs, err := loadConnections()
	if err != nil {
		return nil, err
	}

	var active *ConnConfig
	count := 0
	for i := range configs {
		if configs[i].Active {
			active = &configs[i]
			count++
		}
	}
	if count > 1 {
		return nil, fmt.Errorf("multiple active connections found (only one can be active)")
	}
	return active, nil
}

// connFlags are the per-endpoint command line flags, registered once for
// the source and once for the target.
type connFlags struct {
	flags    *pflag.FlagSet
	prefix   string
	conn     string
	host     string
	port     int
	user     string
	password string
	database string
}

func registerConnFlags(fs *pflag.FlagSet, prefix string) *connFlags {
	f := &connFlags{flags: fs, prefix: prefix}
	fs.StringVar(&f.conn, prefix, "", prefix+" connection as user:password@host:port/database, or a connection name from the config file")
	fs.StringVar(&f.host, prefix+"-host", "127.0.0.1", prefix+" host")
	fs.IntVar(&f.port, prefix+"-port", defaultPort, prefix+" port")
	fs.StringVar(&f.user, prefix+"-user", "", prefix+" user")
	fs.StringVar(&f.password, prefix+"-password", "", prefix+" password")
	fs.StringVar(&f.database, prefix+"-db", "", prefix+" database")
	return f
}

func (f *connFlags) changed(name string) bool {
	fl := f.flags.Lookup(f.prefix + "-" + name)
	if fl == nil {
		return false
	}
	return fl.Changed
}

// given reports whether any flag of this endpoint was set.
func (f *connFlags) given() bool {
	if f.conn != "" {
		return true
	}
	for _, name := range []string{"host", "port", "user", "password", "db"} {
		if f.changed(name) {
			return true
		}
	}
	return false
}

// resolve builds the endpoint: --<prefix> (a connection string or a config
// name), then fallback, then individual flags on top.
func (f *connFlags) resolve(fallback *ConnConfig) (*ConnConfig, error) {
	var cfg ConnConfig
	switch {
	case f.conn != "" && strings.Contains(f.conn, "@"):
		parsed, err := ParseConnString(f.conn)
		if err != nil {
			return nil, err
		}
		cfg = *parsed
	case f.conn != "":
		named, err := FindConnection(f.conn)
		if err != nil {
			return nil, err
		}
		cfg = *named
	case fallback != nil:
		cfg = *fallback
	default:
		cfg = ConnConfig{Host: "127.0.0.1", Port: defaultPort}
	}

	if f.changed("host") {
		cfg.Host = f.host
	}
	if f.changed("port") {
		cfg.Port = f.port
	}
	if f.changed("user") {
		cfg.User = f.user
	}
	if f.changed("password") {
		cfg.Password = f.password
	}
	if f.changed("db") {
		cfg.Database = f.database
	}

	if cfg.User == "" {
		return nil, fmt.Errorf("%s connection: user is required", f.prefix)
	}
	return &cfg, nil
}

// openDB connects once and returns the pool with the selected schema.
func openDB(cfg *ConnConfig) (*sql.DB, string, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, "", fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		var me *mysql.MySQLError
		if errors.As(err, &me) {
			switch me.Number {
			case 1045:
				return nil, "", fmt.Errorf("access denied for %s (check user and password): %w", cfg.Identity(), err)
			case 1049:
				return nil, "", fmt.Errorf("database %q does not exist on %s: %w", cfg.Database, cfg.Identity(), err)
			}
		}
		return nil, "", fmt.Errorf("failed to connect to %s: %w", cfg.Identity(), err)
	}

	schemaName := cfg.Database
	if schemaName == "" {
		var current sql.NullString
		if err := db.QueryRow("SELECT DATABASE()").Scan(&current); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("failed to get database name: %w", err)
		}
		schemaName = current.String
	}
	if schemaName == "" {
		db.Close()
		return nil, "", fmt.Errorf("no database selected for %s", cfg.Identity())
	}

	return db, schemaName, nil
}
