package config_test

import (
	"crypto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/pdfbatchsign/config"
	"github.com/digitorus/pdfbatchsign/crypt"
	"github.com/digitorus/pdfbatchsign/sign"
)

const propertiesContent = `
# signing key
keyfile=/etc/pdfbatchsign/signer.p12
password='s3cr$t'
reason=Contract note
contact=support@example.com
location=Bangalore
x1=400
y1=20
x2=590
y2=80
page=1
`

func TestConfig(t *testing.T) {
	cfg, err := config.Parse(strings.NewReader(propertiesContent), config.FormatProperties)
	require.NoError(t, err)

	assert.Equal(t, "/etc/pdfbatchsign/signer.p12", cfg.KeyFile)
	assert.Equal(t, "s3cr$t", cfg.Password)
	assert.True(t, cfg.PasswordSet)
	assert.Equal(t, "Contract note", cfg.Reason)
	assert.Equal(t, "support@example.com", cfg.Contact)
	assert.Equal(t, "Bangalore", cfg.Location)
	assert.Equal(t, [4]float64{400, 20, 590, 80}, cfg.Rect)
	assert.Equal(t, 1, cfg.Page)

	// Defaults
	assert.Equal(t, crypto.SHA256, cfg.Digest)
	assert.Equal(t, crypt.AES128, cfg.Encryption)
	assert.Equal(t, crypt.PermissionPrint, cfg.Permissions)
	assert.False(t, cfg.EncryptMetadata)
	assert.Nil(t, cfg.Color)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestConfigOptionalKeys(t *testing.T) {
	content := propertiesContent + `
alias=signing key
digest=sha512
encryption=aes256
encrypt_metadata=true
permissions=print,copy
owner_password=admin
user_password=reader
font=Courier
font_size=11
color=0,0,128
tsa_url=http://timestamp.example.com/tsr
workers=4
timeout=30
progress_interval=10
log_level=debug
`
	cfg, err := config.Parse(strings.NewReader(content), config.FormatProperties)
	require.NoError(t, err)

	assert.Equal(t, "signing key", cfg.Alias)
	assert.Equal(t, crypto.SHA512, cfg.Digest)
	assert.Equal(t, crypt.AES256, cfg.Encryption)
	assert.True(t, cfg.EncryptMetadata)
	assert.Equal(t, crypt.PermissionPrint|crypt.PermissionCopy, cfg.Permissions)
	assert.Equal(t, "admin", cfg.OwnerPassword)
	assert.Equal(t, "reader", cfg.UserPassword)
	assert.Equal(t, "Courier", cfg.Font)
	assert.Equal(t, 11.0, cfg.FontSize)
	assert.Equal(t, &sign.Color{R: 0, G: 0, B: 128}, cfg.Color)
	assert.Equal(t, "http://timestamp.example.com/tsr", cfg.TSA.URL)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 10, cfg.ProgressInterval)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestConfigYAMLAndTOML(t *testing.T) {
	yamlContent := `
keyfile: signer.p12
password: secret
x1: 10
y1: 10.5
x2: 200
y2: 60
page: 2
workers: 2
timeout: 90s
`
	cfg, err := config.Parse(strings.NewReader(yamlContent), config.FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "signer.p12", cfg.KeyFile)
	assert.Equal(t, [4]float64{10, 10.5, 200, 60}, cfg.Rect)
	assert.Equal(t, 2, cfg.Page)
	assert.Equal(t, 90*time.Second, cfg.Timeout)

	tomlContent := `
keyfile = "signer.p12"
password = "secret"
x1 = 10
y1 = 10
x2 = 200
y2 = 60
page = 1
encryption = "rc4"
`
	cfg, err = config.Parse(strings.NewReader(tomlContent), config.FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, crypt.RC4128, cfg.Encryption)
	assert.Equal(t, 1, cfg.Page)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ``},
		{"missing keyfile", strings.Replace(propertiesContent, "keyfile=/etc/pdfbatchsign/signer.p12", "", 1)},
		{"missing page", strings.Replace(propertiesContent, "page=1", "", 1)},
		{"coordinate not a number", strings.Replace(propertiesContent, "x1=400", "x1=left", 1)},
		{"empty rectangle", strings.Replace(propertiesContent, "x2=590", "x2=400", 1)},
		{"page zero", strings.Replace(propertiesContent, "page=1", "page=0", 1)},
		{"unknown digest", propertiesContent + "digest=md5\n"},
		{"unknown encryption", propertiesContent + "encryption=des\n"},
		{"unknown permission", propertiesContent + "permissions=print,fly\n"},
		{"bad color", propertiesContent + "color=red\n"},
		{"unknown font", propertiesContent + "font=Comic-Sans\n"},
		{"bad timeout", propertiesContent + "timeout=soon\n"},
		{"bad workers", propertiesContent + "workers=0\n"},
		{"bad tsa url", propertiesContent + "tsa_url=not a url\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse(strings.NewReader(tt.content), config.FormatProperties)
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestPasswordFromEnvironment(t *testing.T) {
	content := strings.Replace(propertiesContent, "password='s3cr$t'", "", 1)

	t.Setenv(config.PasswordEnv, "from-env")
	cfg, err := config.Parse(strings.NewReader(content), config.FormatProperties)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Password)
	assert.True(t, cfg.PasswordSet)

	os.Unsetenv(config.PasswordEnv)
	cfg, err = config.Parse(strings.NewReader(content), config.FormatProperties)
	require.NoError(t, err)
	assert.False(t, cfg.PasswordSet)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(propertiesContent), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Page)

	_, err = config.Load(filepath.Join(dir, "missing.ini"))
	assert.Error(t, err)

	assert.Equal(t, config.FormatYAML, config.FormatOf("a.yml"))
	assert.Equal(t, config.FormatTOML, config.FormatOf("a.TOML"))
	assert.Equal(t, config.FormatProperties, config.FormatOf("config.ini"))
}
