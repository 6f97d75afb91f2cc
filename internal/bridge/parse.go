package bridge

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"

	"github.com/babelcloud/hopemirror/internal/core"
	"github.com/pkg/errors"
)

const deviceListHeader = "List of devices attached"

// ParseDeviceList extracts online devices from `adb devices` output. Output
// without the list header is a discovery error; an empty list is not.
func ParseDeviceList(out string) ([]core.DeviceHandle, error) {
	var (
		devices    []core.DeviceHandle
		seenHeader bool
	)

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "*") {
			// adb prints "* daemon started successfully" before the list
			continue
		}
		if strings.HasPrefix(line, deviceListHeader) {
			seenHeader = true
			continue
		}
		if !seenHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}
		devices = append(devices, core.DeviceHandle(fields[0]))
	}
	if err := sc.Err(); err != nil {
		return nil, core.NewError(core.KindDiscovery, "parse device list", "", err)
	}
	if !seenHeader {
		return nil, core.NewError(core.KindDiscovery, "parse device list", "",
			errors.Errorf("unexpected output %q", firstLine(out)))
	}
	return devices, nil
}

var sizePattern = regexp.MustCompile(`(\d+)x(\d+)`)

// ParseDisplaySize returns the first "<width>x<height>" token in out.
func ParseDisplaySize(out string) (int, int, bool) {
	m := sizePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// shellEscaper keeps `input text` arguments intact through the device shell.
// Spaces become %s, the placeholder `input text` expands back to a space.
var shellEscaper = strings.NewReplacer(
	" ", "%s",
	`\`, `\\`,
	"'", `\'`,
	"(", `\(`,
	")", `\)`,
	"&", `\&`,
	"|", `\|`,
	";", `\;`,
	"<", `\<`,
	">", `\>`,
	"$", `\$`,
	"`", "\\`",
	"*", `\*`,
	"~", `\~`,
)

// EscapeText prepares text for `input text`.
func EscapeText(text string) string {
	return shellEscaper.Replace(text)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
