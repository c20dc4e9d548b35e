// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package vdisk

// AppHookOption names one key in an AppHook option map. The library never
// reads environment variables or config files (see SPEC_FULL.md section 2);
// every out-of-band setting a caller wants to supply -- test-fixture roots,
// debug flags -- goes through this map instead.
type AppHookOption int

const (
	// OptionTestDataRoot points the stress harness (internal/grinder) and
	// the analyzer's self-test helpers at a directory of fixture disk
	// images and archives. Value: string.
	OptionTestDataRoot AppHookOption = iota
	// OptionDebugVerboseNotes asks engines to append extra low-severity
	// Info notes that a production caller would not normally want.
	// Value: bool.
	OptionDebugVerboseNotes
	// OptionFixtureGlob narrows OptionTestDataRoot to a doublestar glob
	// (e.g. "dos33/*.do") instead of the whole tree. Value: string.
	OptionFixtureGlob
)

// AppHook is the sole channel through which a caller configures behavior
// that isn't an explicit function argument.
type AppHook map[AppHookOption]any

// String returns the value of key as a string, or "" if absent or the wrong type.
func (h AppHook) String(key AppHookOption) string {
	if v, ok := h[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool returns the value of key as a bool, or false if absent or the wrong type.
func (h AppHook) Bool(key AppHookOption) bool {
	if v, ok := h[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
