// Environment defaults for the gufo-ping utility.
//
// The library takes everything through ping.Config; these variables
// only seed the command line flag defaults, so a deployment can pin
// its policy or packet size without wrapping the binary.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gufolabs/gufo-ping/internal/logger"
	"github.com/gufolabs/gufo-ping/pkg/ping"
)

const pkgName = "GufoPingConfig. "

type configCache struct {
	policy      ping.SelectionPolicy
	size        int
	timeout     time.Duration
	metricsPort uint16
}

var cache configCache

func Init() {
	initPolicy()
	initSize()
	initTimeout()
	initMetricsPort()
}

func initPolicy() {
	p, err := ping.ParsePolicy(os.Getenv("GUFO_PING_POLICY"))
	if err != nil {
		logger.Warning().Println(pkgName, "invalid GUFO_PING_POLICY, using auto")
		p = ping.PolicyAuto
	}
	cache.policy = p
}

func initSize() {
	cache.size = ping.DefaultSize
	v := os.Getenv("GUFO_PING_SIZE")
	if v == "" {
		return
	}
	size, err := strconv.Atoi(v)
	if err != nil {
		logger.Warning().Println(pkgName, "invalid GUFO_PING_SIZE", v)
		return
	}
	cache.size = size
}

func initTimeout() {
	cache.timeout = ping.DefaultTimeout
	v := os.Getenv("GUFO_PING_TIMEOUT")
	if v == "" {
		return
	}
	timeout, err := time.ParseDuration(v)
	if err != nil {
		logger.Warning().Println(pkgName, "invalid GUFO_PING_TIMEOUT", v)
		return
	}
	cache.timeout = timeout
}

func initMetricsPort() {
	v := os.Getenv("GUFO_PING_METRICS_PORT")
	if v == "" {
		return
	}
	port, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		logger.Warning().Println(pkgName, "invalid GUFO_PING_METRICS_PORT", v)
		return
	}
	cache.metricsPort = uint16(port)
}

func Policy() ping.SelectionPolicy {
	return cache.policy
}

func Size() int {
	return cache.size
}

func Timeout() time.Duration {
	return cache.timeout
}

func MetricsPort() uint16 {
	return cache.metricsPort
}
