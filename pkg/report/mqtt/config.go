package mqtt

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/rtcsync/pkg/env"
)

// ConnectTimeout bounds the wait for the first broker connection.
const ConnectTimeout = 5 * time.Second

// Config provides options to publish samples over MQTT.
type Config struct {
	// BrokerURL specifies the MQTT broker, publishing is disabled if empty.
	// e.g. mqtt://host:port/topic-prefix
	BrokerURL string
	// ID names this time server in topics.
	ID string
}

var defaultConfig Config

func init() {
	defaultConfig.BrokerURL = os.Getenv("RTCSYNC_MQTT_URL")
	if val := os.Getenv("RTCSYNC_ID"); val != "" {
		defaultConfig.ID = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.BrokerURL, "mqtt", defaultConfig.BrokerURL, "MQTT broker URL, empty to disable publishing")
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "ID in MQTT topics, machine ID if empty")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Enabled tells whether publishing is configured.
func (c *Config) Enabled() bool {
	return c.BrokerURL != ""
}

// Service connects to the broker for the lifetime of a run and publishes
// through its Reporter.
type Service struct {
	Queue    *Queue
	Reporter *Reporter
}

// NewService creates a Service from the config.
func (c *Config) NewService() (*Service, error) {
	id := c.ID
	if id == "" {
		id = env.MachineID()
	}
	opts, topicPrefix, err := ClientOptionsFromURL(c.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT broker URL: %v", err)
	}
	opts.SetBinaryWill(topicPrefix+id+"/"+TopicStatus, []byte(StatusOffline), 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("rtcsync:" + id)
	}
	q := NewQueue(opts, topicPrefix)
	return &Service{
		Queue:    q,
		Reporter: &Reporter{ID: id, Publisher: q},
	}, nil
}

// Name implements Named.
func (s *Service) Name() string {
	return "mqtt"
}

// Connect connects to the broker, waiting up to ConnectTimeout so early
// samples aren't dropped. A broker that can't be reached is logged and
// doesn't fail the run.
func (s *Service) Connect() {
	token := s.Queue.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		glog.Warningf("MQTT connect timeout")
	} else if err := token.Error(); err != nil {
		glog.Warningf("MQTT connect: %v", err)
	}
}

// Run implements Runnable. It disconnects once ctx is done.
func (s *Service) Run(ctx context.Context) error {
	<-ctx.Done()
	return s.Queue.Close()
}
