package secret

import (
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands $VAR and ${VAR} in s. A ${VAR} that is unset is
// an error (*MissingEnvError); a bare $VAR that is unset expands to "".
// "$$" is a literal "$".
func ExpandEnvStrict(s string) (string, error) {
	const escaped = "\x00resaccess-dollar\x00"
	s = strings.ReplaceAll(s, "$$", escaped)

	missing := map[string]bool{}
	for _, m := range bracedVar.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(m[1]); !ok {
			missing[m[1]] = true
		}
	}
	if len(missing) > 0 {
		return "", &MissingEnvError{Names: slices.Sorted(maps.Keys(missing))}
	}
	return strings.ReplaceAll(os.ExpandEnv(s), escaped, "$"), nil
}
