package instruments

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/neurocohort/databank/pkg/archive"
	"github.com/neurocohort/databank/pkg/common/models"
	"github.com/neurocohort/databank/pkg/dates"
	"github.com/neurocohort/databank/pkg/tabular"
)

const (
	proteusNamespace = "http://www.camcog.com/proteus/entity/xml"
	datasheetSubject = "Subject ID"
	datasheetStart   = "Session start time"
)

var (
	detailedSubjectPattern = regexp.MustCompile(`^"?Subject ID : (\w*)"?`)
	reportSubjectPattern   = regexp.MustCompile(`^<th>Subject ID</th><td>(.*)</td><th>Gender</th><td>(.*)</td>`)
)

// ReadCclar returns the subject ids recorded in the index.xml members of a
// cclar export, which is itself a zip.
func ReadCclar(data []byte, location string) ([]string, error) {
	container, err := archive.NewZipReader(location, data)
	if err != nil {
		return nil, err
	}
	defer container.Close()

	ids := make(map[string]struct{})
	for _, entry := range container.Entries() {
		if entry.Dir || !strings.HasSuffix(entry.Name, "index.xml") {
			continue
		}
		content, err := archive.ReadFile(container, entry.Name)
		if err != nil {
			return nil, err
		}
		if err := collectCclarIDs(bytes.NewReader(content), ids); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", location, entry.Name, err)
		}
	}
	return sortedKeys(ids), nil
}

func collectCclarIDs(r io.Reader, ids map[string]struct{}) error {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(label, "iso-8859-1") || strings.EqualFold(label, "latin1") {
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		}
		return input, nil
	}
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "attribute" || start.Name.Space != proteusNamespace {
			continue
		}
		var name, value string
		hasValue := false
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "name":
				name = attr.Value
			case "value":
				value = attr.Value
				hasValue = true
			}
		}
		if name == "ID" && hasValue {
			ids[value] = struct{}{}
		}
	}
}

// Datasheet summarises a cognitive battery datasheet.
type Datasheet struct {
	SubjectIDs        []string
	SessionStartTimes []time.Time
	// Rows counts the header line too.
	Rows        int
	MinColumns  int
	Fields      []string
	Diagnostics []models.Diagnostic
}

// ReadDatasheet reads a datasheet in whatever dialect the site exported.
// Session start times before floor are flagged; a zero floor disables the
// check.
func ReadDatasheet(r io.Reader, location string, floor time.Time) (Datasheet, error) {
	reader, err := tabular.NewSniffingReader(r)
	if err != nil {
		return Datasheet{}, fmt.Errorf("%s: %w", location, err)
	}
	header := reader.Header()
	out := Datasheet{
		Rows:       1,
		MinColumns: len(header),
		Fields:     header,
	}
	_, hasSubject := indexOf(header, datasheetSubject)
	_, hasStart := indexOf(header, datasheetStart)

	ids := make(map[string]struct{})
	starts := make(map[time.Time]struct{})
	for {
		row, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Datasheet{}, fmt.Errorf("%s: %w", location, err)
		}
		out.Rows++
		if n := row.Width; n < out.MinColumns {
			out.MinColumns = n
		}

		subject := row.Record[header[0]]
		if hasSubject {
			subject = row.Record[datasheetSubject]
		}
		ids[subject] = struct{}{}

		if !hasStart {
			continue
		}
		value := row.Record[datasheetStart]
		start, ok := dates.Parse(value, dates.CantabTimestamps)
		if !ok {
			continue
		}
		if !floor.IsZero() && start.Before(floor) {
			out.Diagnostics = append(out.Diagnostics, models.NewDiagnostic(
				models.KindImplausibleDate,
				fmt.Sprintf("%s:%d", location, row.Line),
				fmt.Sprintf("%q for %s anterior to %s", datasheetStart, subject, floor.Format("2006")),
				value,
			).WithSeverity(models.SeverityWarning))
		}
		starts[start] = struct{}{}
	}

	out.SubjectIDs = sortedKeys(ids)
	for t := range starts {
		out.SessionStartTimes = append(out.SessionStartTimes, t)
	}
	sort.Slice(out.SessionStartTimes, func(i, j int) bool {
		return out.SessionStartTimes[i].Before(out.SessionStartTimes[j])
	})
	return out, nil
}

// ReadDetailedDatasheet returns the subject ids of a detailed datasheet.
// These files are written in latin1.
func ReadDetailedDatasheet(r io.Reader) ([]string, error) {
	return matchLatin1Lines(r, detailedSubjectPattern)
}

// ReadReport returns the subject ids of an HTML battery report.
func ReadReport(r io.Reader) ([]string, error) {
	return matchLatin1Lines(r, reportSubjectPattern)
}

func matchLatin1Lines(r io.Reader, pattern *regexp.Regexp) ([]string, error) {
	ids := make(map[string]struct{})
	scanner := bufio.NewScanner(charmap.ISO8859_1.NewDecoder().Reader(r))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if m := pattern.FindStringSubmatch(scanner.Text()); m != nil {
			ids[m[1]] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sortedKeys(ids), nil
}

func indexOf(fields []string, name string) (int, bool) {
	for i, f := range fields {
		if f == name {
			return i, true
		}
	}
	return -1, false
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
