package config_test

import (
	"os"
	"reflect"
	"regexp"
	"strings"
	"testing"

	storageconfig "github.com/xtxerr/tally/internal/storage/config"
)

// yamlField follows a dotted key through yaml struct tags.
func yamlField(t reflect.Type, key string) bool {
	for _, part := range strings.Split(key, ".") {
		if t.Kind() != reflect.Struct {
			return false
		}
		found := false
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if strings.Split(f.Tag.Get("yaml"), ",")[0] == part {
				t = f.Type
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestOverrideKeysExist(t *testing.T) {
	src, err := os.ReadFile("defaults.go")
	if err != nil {
		t.Fatal(err)
	}

	matches := regexp.MustCompile(`Override via config: (\S+)`).FindAllStringSubmatch(string(src), -1)
	if len(matches) == 0 {
		t.Fatal("no override keys found")
	}

	cfgType := reflect.TypeOf(storageconfig.Config{})
	for _, m := range matches {
		if !yamlField(cfgType, m[1]) {
			t.Errorf("override key %q is not a config.yaml field", m[1])
		}
	}
}
