package session

import (
	"fmt"
	"time"

	"example.com/backstage/services/aggregation/config"
)

// RejectPolicy decides what happens to the buffer after a rejected check
type RejectPolicy string

const (
	// RejectRetain keeps every code so the operator can fix the box in place
	RejectRetain RejectPolicy = "retain"
	// RejectClear empties the buffer
	RejectClear RejectPolicy = "clear"
	// RejectDropInvalid removes only the codes the check reported as invalid
	RejectDropInvalid RejectPolicy = "drop_invalid"
)

// ParseRejectPolicy validates a configured policy name
func ParseRejectPolicy(name string) (RejectPolicy, error) {
	switch p := RejectPolicy(name); p {
	case RejectRetain, RejectClear, RejectDropInvalid:
		return p, nil
	case "":
		return RejectRetain, nil
	default:
		return "", fmt.Errorf("unknown reject policy %q", name)
	}
}

// Settings are the scan timing and outcome rules shared by all sessions
type Settings struct {
	// StaleTTL evicts codes not seen for this long; zero keeps them until
	// a check consumes them
	StaleTTL time.Duration
	// CoolingPeriod is how long the code set must stay unchanged before a check
	CoolingPeriod time.Duration
	// InactivityTimeout checks an incomplete set that has not changed for
	// this long; zero disables it
	InactivityTimeout time.Duration
	RejectPolicy      RejectPolicy
	PersistBuffer     bool
}

// SettingsFromConfig builds Settings from the scan section of the config
func SettingsFromConfig(cfg config.ScanConfig) (Settings, error) {
	policy, err := ParseRejectPolicy(cfg.RejectPolicy)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		StaleTTL:          cfg.StaleTTL,
		CoolingPeriod:     cfg.CoolingPeriod,
		InactivityTimeout: cfg.InactivityTimeout,
		RejectPolicy:      policy,
		PersistBuffer:     cfg.PersistBuffer,
	}, nil
}
