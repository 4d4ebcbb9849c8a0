// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package directory

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/samber/oops"
)

// Defaults applied by WithDefaults.
const (
	DefaultPort              = 389
	DefaultTLSPort           = 636
	DefaultSearchFilter      = "(uid=" + UsernamePlaceholder + ")"
	DefaultIDAttribute       = "uid"
	DefaultIDNumberAttribute = "uidNumber"
	DefaultTimeout           = 10 * time.Second
)

// Config describes how to reach and search the directory.
type Config struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	UseTLS       bool          `koanf:"use_tls"`
	BaseDN       string        `koanf:"base_dn"`
	BindDN       string        `koanf:"bind_dn"`
	BindPassword string        `koanf:"bind_password"`
	SearchBase   string        `koanf:"search_base"`
	SearchFilter string        `koanf:"search_filter"`
	IDAttribute  string        `koanf:"id_attribute"`
	Timeout      time.Duration `koanf:"timeout" jsonschema:"oneof_type=string;integer"`

	// IDNumberAttribute holds the numeric identity id, e.g. uidNumber.
	IDNumberAttribute string `koanf:"id_number_attribute"`
}

// WithDefaults returns a copy of c with unset optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
		if c.UseTLS {
			c.Port = DefaultTLSPort
		}
	}
	if c.SearchBase == "" {
		c.SearchBase = c.BaseDN
	}
	if c.SearchFilter == "" {
		c.SearchFilter = DefaultSearchFilter
	}
	if c.IDAttribute == "" {
		c.IDAttribute = DefaultIDAttribute
	}
	if c.IDNumberAttribute == "" {
		c.IDNumberAttribute = DefaultIDNumberAttribute
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Host == "" {
		return oops.Code("CONFIG_INVALID").Errorf("directory host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return oops.Code("CONFIG_INVALID").With("port", c.Port).Errorf("directory port must be between 1 and 65535")
	}
	if c.SearchBase == "" {
		return oops.Code("CONFIG_INVALID").Errorf("directory search base or base DN is required")
	}
	// Searches run as the service account; go-ldap refuses an empty bind password.
	if c.BindDN == "" || c.BindPassword == "" {
		return oops.Code("CONFIG_INVALID").
			With("bind_dn", c.BindDN).
			Errorf("directory bind DN and bind password are required")
	}
	if !strings.Contains(c.SearchFilter, UsernamePlaceholder) {
		return oops.Code("CONFIG_INVALID").
			With("search_filter", c.SearchFilter).
			Errorf("directory search filter must contain %s", UsernamePlaceholder)
	}
	if _, err := ldap.CompileFilter(c.Filter("jdoe")); err != nil {
		return oops.Code("CONFIG_INVALID").
			With("search_filter", c.SearchFilter).
			Wrapf(err, "directory search filter is not a valid LDAP filter")
	}
	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the ldap:// or ldaps:// URL for the server.
func (c Config) URL() string {
	scheme := "ldap"
	if c.UseTLS {
		scheme = "ldaps"
	}
	return scheme + "://" + c.Addr()
}

// Filter instantiates the search filter template for username, escaping
// filter metacharacters in the username.
func (c Config) Filter(username string) string {
	return strings.ReplaceAll(c.SearchFilter, UsernamePlaceholder, ldap.EscapeFilter(username))
}
