package input

import (
	"sort"
	"strings"

	"github.com/vishalkuo/bimap"
)

// Android key codes for the named commands the mirror exposes.
const (
	KeyHome       = 3
	KeyBack       = 4
	KeyVolumeUp   = 24
	KeyVolumeDown = 25
	KeyPower      = 26
	KeyEnter      = 66
	KeyDelete     = 67
	KeyMenu       = 82
	KeyAppSwitch  = 187
)

var keys = func() *bimap.BiMap[string, int] {
	m := bimap.NewBiMap[string, int]()
	m.Insert("home", KeyHome)
	m.Insert("back", KeyBack)
	m.Insert("volume_up", KeyVolumeUp)
	m.Insert("volume_down", KeyVolumeDown)
	m.Insert("power", KeyPower)
	m.Insert("enter", KeyEnter)
	m.Insert("delete", KeyDelete)
	m.Insert("menu", KeyMenu)
	m.Insert("app_switch", KeyAppSwitch)
	return m
}()

// KeyCode resolves a command name such as "volume_up". Dashes and case are
// ignored.
func KeyCode(name string) (int, bool) {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	return keys.Get(name)
}

// KeyName is the inverse of KeyCode.
func KeyName(code int) (string, bool) {
	return keys.GetInverse(code)
}

// KeyNames lists every command name, sorted.
func KeyNames() []string {
	names := make([]string, 0, keys.Size())
	for name := range keys.GetForwardMap() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
