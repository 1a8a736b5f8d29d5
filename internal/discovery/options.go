package discovery

import "time"

// Option is a functional option for configuring a Sweeper
type Option func(*Sweeper)

// WithPorts sets the TCP ports that mark a host as a router candidate
func WithPorts(ports ...int) Option {
	return func(s *Sweeper) {
		var valid []int
		for _, p := range ports {
			if p >= 1 && p <= 65535 {
				valid = append(valid, p)
			}
		}
		if len(valid) > 0 {
			s.ports = valid
		}
	}
}

// WithTimeout bounds each TCP connection attempt
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithConcurrency limits parallel probes and detections
func WithConcurrency(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithNmap forces the nmap sweep on or off instead of checking for the
// binary at sweep time
func WithNmap(enabled bool) Option {
	return func(s *Sweeper) {
		s.useNmap = &enabled
	}
}
