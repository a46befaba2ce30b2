package config

import "sync"

// ResetForTest drops the memoised config so the next Load reads files and
// environment again. Tests that change WEATHERAGENT_* variables call it
// before and after themselves.
func ResetForTest() {
	loadOnce = sync.Once{}
	loaded, loadErr = nil, nil
}
