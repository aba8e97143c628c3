package instruments

import (
	"bufio"
	"io"
	"regexp"

	"github.com/neurocohort/databank/pkg/identity"
)

var scanningSubjectPattern = regexp.MustCompile(`^\d{2}[/.]\d{2}[/.]\d{4} \d{2}:\d{2}:\d{2}\tSubject ID: (\w+)`)

// ReadScanningLog returns the subject ids logged by the physiological
// recording software. When a logged id embeds an internal code, the code is
// reported instead of the raw id.
func ReadScanningLog(r io.Reader) ([]string, error) {
	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m := scanningSubjectPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		id := m[1]
		if code, ok := identity.DetectInternalCode(id); ok {
			id = code
		}
		ids[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sortedKeys(ids), nil
}
