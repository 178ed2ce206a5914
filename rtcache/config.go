package rtcache

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

type Config struct {
	// Socket buffer sizes in bytes, kernel defaults when 0.
	ReceiveBufferSize int `yaml:"receiveBufferSize" validate:"gte=0"`
	SendBufferSize    int `yaml:"sendBufferSize" validate:"gte=0"`

	// Deadline of a single request/response exchange, none when 0.
	RequestTimeoutMs int `yaml:"requestTimeoutMs" validate:"gte=0"`

	// Multicast groups joined by Subscribe when none are given.
	Groups []string `yaml:"groups" validate:"dive,oneof=link ipv4-addr ipv6-addr ipv4-route ipv6-route neigh"`

	EventBuffer      int  `yaml:"eventBuffer" validate:"gte=0"`
	ResyncOnOverrun  bool `yaml:"resyncOnOverrun"`
	SkipClonedRoutes bool `yaml:"skipClonedRoutes"`
	Log              bool `yaml:"log"`
}

var DefaultConfig = Config{
	ReceiveBufferSize: 1 << 20,
	RequestTimeoutMs:  5000,
	Groups:            []string{"link", "ipv4-addr", "ipv6-addr", "ipv4-route", "ipv6-route", "neigh"},
	EventBuffer:       64,
	ResyncOnOverrun:   true,
	SkipClonedRoutes:  true,
	Log:               true,
}

func (self *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := config(DefaultConfig)
	def.Groups = append([]string{}, DefaultConfig.Groups...)

	if err := yaml.Unmarshal(b, &def); err != nil {
		return err
	}

	*self = Config(def)

	return nil
}

func (self Config) String() string {
	return fmt.Sprintf("rcvbuf=%d sndbuf=%d timeout=%dms groups=%s events=%d resync=%t skipCloned=%t",
		self.ReceiveBufferSize, self.SendBufferSize, self.RequestTimeoutMs, strings.Join(self.Groups, ","),
		self.EventBuffer, self.ResyncOnOverrun, self.SkipClonedRoutes)
}

func (self Config) requestTimeout() time.Duration {
	return time.Duration(self.RequestTimeoutMs) * time.Millisecond
}

var validate = validator.New()

func (self Config) Validate() error {
	if err := validate.Struct(self); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// LoadConfig reads a yaml file. Keys absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "error reading the configuration")
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, errors.Wrapf(err, "error parsing %s", path)
	}
	return c, c.Validate()
}
