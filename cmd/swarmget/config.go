package main

import (
	"fmt"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/urfave/cli"

	"github.com/swarmget/swarmget/torrent"
)

func loadConfig(c *cli.Context) (*torrent.Config, error) {
	cfg, err := torrent.LoadConfig(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if err = applyOverrides(cfg, c.GlobalStringSlice("set")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides sets config values from "key=value" pairs.
// Keys are the same as in the YAML config file.
func applyOverrides(cfg *torrent.Config, pairs []string) error {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		i := strings.IndexByte(p, '=')
		if i <= 0 {
			return fmt.Errorf("invalid config override %q, must be in key=value form", p)
		}
		m[strings.TrimSpace(p[:i])] = strings.TrimSpace(p[i+1:])
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		TagName:          "yaml",
		Result:           cfg,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

// parseSpeed converts a size per second like "2MB" to KB/s. "0" means unlimited.
func parseSpeed(s string) (int64, error) {
	var v datasize.ByteSize
	if err := v.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return 0, fmt.Errorf("invalid speed %q: %w", s, err)
	}
	return int64(v.KBytes()), nil
}
