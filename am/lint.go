package am

import (
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/pulseq/errors"
)

// UnknownKeys returns the keys in a TOML config file that do not map to
// any Config field, sorted. Viper ignores these silently, so a typo like
// "sleep_second" would otherwise fall back to the default unnoticed.
func UnknownKeys(path string) ([]string, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	undecoded := md.Undecoded()
	keys := make([]string, 0, len(undecoded))
	for _, k := range undecoded {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys, nil
}
