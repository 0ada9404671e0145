// Package config reads the signer configuration. The format follows the
// file extension: key=value properties (.ini and anything else), YAML or
// TOML.
package config

import (
	"bytes"
	"crypto"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/fonts"
	"github.com/digitorus/pdfbatchsign/sign"
)

func init() {
	govalidator.SetFieldsRequiredByDefault(true)
}

var (
	DefaultLocation = "config.ini" // Default location of the config file

	// PasswordEnv is consulted when the file has no password key.
	PasswordEnv = "PDFBATCHSIGN_PASSWORD"
)

// ErrInvalid is returned for a configuration that fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Format is a configuration file syntax.
type Format int

const (
	FormatProperties Format = iota
	FormatYAML
	FormatTOML
)

// FormatOf returns the format for a file name.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatProperties
}

// Raw holds the configuration values as written in the file.
type Raw struct {
	KeyFile  string `key:"keyfile" valid:"required"`
	Password string `key:"password" valid:"optional"`
	Alias    string `key:"alias" valid:"optional"`

	Reason   string `key:"reason" valid:"optional"`
	Contact  string `key:"contact" valid:"optional"`
	Location string `key:"location" valid:"optional"`

	X1   string `key:"x1" valid:"required,float"`
	Y1   string `key:"y1" valid:"required,float"`
	X2   string `key:"x2" valid:"required,float"`
	Y2   string `key:"y2" valid:"required,float"`
	Page string `key:"page" valid:"required,int"`

	Digest          string `key:"digest" valid:"optional,in(sha256|sha384|sha512|SHA256|SHA384|SHA512)"`
	Encryption      string `key:"encryption" valid:"optional,in(aes128|rc4|aes256)"`
	EncryptMetadata string `key:"encrypt_metadata" valid:"optional,in(true|false|1|0)"`
	Permissions     string `key:"permissions" valid:"optional"`
	UserPassword    string `key:"user_password" valid:"optional"`
	OwnerPassword   string `key:"owner_password" valid:"optional"`

	Font     string `key:"font" valid:"optional"`
	FontFile string `key:"fontfile" valid:"optional"`
	FontSize string `key:"font_size" valid:"optional,float"`
	Color    string `key:"color" valid:"optional"`

	TSAURL      string `key:"tsa_url" valid:"optional,url"`
	TSAUsername string `key:"tsa_username" valid:"optional"`
	TSAPassword string `key:"tsa_password" valid:"optional"`

	Workers          string `key:"workers" valid:"optional,int"`
	Timeout          string `key:"timeout" valid:"optional"`
	ProgressInterval string `key:"progress_interval" valid:"optional,int"`
	LogLevel         string `key:"log_level" valid:"optional,in(trace|debug|info|warn|error|fatal|panic|disabled)"`

	// keys lists the keys present in the file.
	keys map[string]bool
}

// ValidateFields validates all the fields of the config
func (c Raw) ValidateFields() error {
	_, err := govalidator.ValidateStruct(c)
	if err != nil {
		return err
	}
	return nil
}

// Config is the validated configuration.
type Config struct {
	KeyFile  string
	Password string
	// PasswordSet is false when neither the file nor the environment
	// provided a store password.
	PasswordSet bool
	Alias       string

	Reason   string
	Contact  string
	Location string
	Rect     [4]float64
	Page     int

	Digest          crypto.Hash
	Encryption      crypt.Algorithm
	EncryptMetadata bool
	Permissions     crypt.Permissions
	UserPassword    string
	OwnerPassword   string

	// Font is a standard font name such as Helvetica-Bold. FontFile, a
	// TrueType file, takes precedence.
	Font     string
	FontFile string
	FontSize float64
	Color    *sign.Color

	TSA sign.TSA

	Workers          int
	Timeout          time.Duration
	ProgressInterval int
	LogLevel         zerolog.Level
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file is missing: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data), FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse reads and validates a configuration in the given format.
func Parse(r io.Reader, format Format) (*Config, error) {
	values, err := readValues(r, format)
	if err != nil {
		return nil, err
	}

	raw := Raw{keys: make(map[string]bool)}
	v := reflect.ValueOf(&raw).Elem()
	for i := 0; i < v.NumField(); i++ {
		key := v.Type().Field(i).Tag.Get("key")
		if key == "" {
			continue
		}
		if value, ok := values[key]; ok {
			v.Field(i).SetString(strings.TrimSpace(value))
			raw.keys[key] = true
		}
	}

	if !raw.keys["password"] {
		if password, ok := os.LookupEnv(PasswordEnv); ok {
			raw.Password = password
			raw.keys["password"] = true
		}
	}

	if err := raw.ValidateFields(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg, err := raw.convert()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func readValues(r io.Reader, format Format) (map[string]string, error) {
	switch format {
	case FormatYAML:
		var m map[string]any
		if err := yaml.NewDecoder(r).Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return stringify(m), nil
	case FormatTOML:
		var m map[string]any
		if _, err := toml.NewDecoder(r).Decode(&m); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
		return stringify(m), nil
	}

	m, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse properties: %w", err)
	}
	return m, nil
}

func stringify(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case nil:
			out[k] = ""
		case []any:
			parts := make([]string, len(v))
			for i, p := range v {
				parts[i] = fmt.Sprint(p)
			}
			out[k] = strings.Join(parts, ",")
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

func (c Raw) convert() (*Config, error) {
	cfg := &Config{
		KeyFile:       c.KeyFile,
		Password:      c.Password,
		PasswordSet:   c.keys["password"],
		Alias:         c.Alias,
		Reason:        c.Reason,
		Contact:       c.Contact,
		Location:      c.Location,
		UserPassword:  c.UserPassword,
		OwnerPassword: c.OwnerPassword,
		Font:          c.Font,
		FontFile:      c.FontFile,
		TSA: sign.TSA{
			URL:      c.TSAURL,
			Username: c.TSAUsername,
			Password: c.TSAPassword,
		},
		Permissions: crypt.PermissionPrint,
		Workers:     1,
		Timeout:     2 * time.Minute,
		LogLevel:    zerolog.InfoLevel,
	}

	for i, s := range []string{c.X1, c.Y1, c.X2, c.Y2} {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		cfg.Rect[i] = f
	}
	if cfg.Rect[2] <= cfg.Rect[0] || cfg.Rect[3] <= cfg.Rect[1] {
		return nil, fmt.Errorf("x1,y1,x2,y2: rectangle %v is empty", cfg.Rect)
	}

	page, err := strconv.Atoi(c.Page)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		return nil, fmt.Errorf("page: %d is not a page number", page)
	}
	cfg.Page = page

	switch strings.ToLower(c.Digest) {
	case "", "sha256":
		cfg.Digest = crypto.SHA256
	case "sha384":
		cfg.Digest = crypto.SHA384
	case "sha512":
		cfg.Digest = crypto.SHA512
	}

	if cfg.Encryption, err = crypt.ParseAlgorithm(c.Encryption); err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	if c.EncryptMetadata != "" {
		cfg.EncryptMetadata, _ = strconv.ParseBool(c.EncryptMetadata)
	}
	if c.Permissions != "" {
		if cfg.Permissions, err = crypt.ParsePermissions(c.Permissions); err != nil {
			return nil, fmt.Errorf("permissions: %w", err)
		}
	}

	if c.Font != "" {
		if _, ok := fonts.ByName(c.Font); !ok {
			return nil, fmt.Errorf("font: %q is not a standard font", c.Font)
		}
	}
	if c.FontSize != "" {
		if cfg.FontSize, err = strconv.ParseFloat(c.FontSize, 64); err != nil {
			return nil, fmt.Errorf("font_size: %w", err)
		}
	}
	if c.Color != "" {
		if cfg.Color, err = parseColor(c.Color); err != nil {
			return nil, fmt.Errorf("color: %w", err)
		}
	}

	if c.Workers != "" {
		if cfg.Workers, err = strconv.Atoi(c.Workers); err != nil || cfg.Workers < 1 {
			return nil, fmt.Errorf("workers: %q is not a positive number", c.Workers)
		}
	}
	if c.Timeout != "" {
		if cfg.Timeout, err = parseTimeout(c.Timeout); err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
	}
	if c.ProgressInterval != "" {
		if cfg.ProgressInterval, err = strconv.Atoi(c.ProgressInterval); err != nil {
			return nil, fmt.Errorf("progress_interval: %w", err)
		}
	}
	if c.LogLevel != "" {
		if cfg.LogLevel, err = zerolog.ParseLevel(c.LogLevel); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
	}
	return cfg, nil
}

// parseColor reads "r,g,b" with components from 0 to 255.
func parseColor(s string) (*sign.Color, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%q is not r,g,b", s)
	}
	var rgb [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%q is not r,g,b", s)
		}
		rgb[i] = uint8(n)
	}
	return &sign.Color{R: rgb[0], G: rgb[1], B: rgb[2]}, nil
}

// parseTimeout accepts a Go duration or a number of seconds.
func parseTimeout(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%q is not positive", s)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%q is not positive", s)
	}
	return d, nil
}
