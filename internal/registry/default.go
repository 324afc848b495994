package registry

import _ "embed"

// defaultDoc is the registry shipped with the binary. A user-supplied
// document replaces it wholesale; there is no merging.
//
//go:embed default.yml
var defaultDoc []byte

// Default parses the embedded registry document.
func Default() (*Registry, error) {
	return Parse(defaultDoc)
}
