package refsync

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var ErrNoMatchingFile = errors.New("no file matches the pattern")

// Pattern matches object names that carry a date, the date is read from the named groups
// year, month & day
type Pattern struct {
	expression *regexp.Regexp

	year  int
	month int
	day   int
}

func CompilePattern(expression string) (*Pattern, error) {
	compiled, err := regexp.Compile(expression)
	if err != nil {
		return nil, err
	}

	pattern := &Pattern{
		expression: compiled,
		year:       compiled.SubexpIndex("year"),
		month:      compiled.SubexpIndex("month"),
		day:        compiled.SubexpIndex("day"),
	}
	if pattern.year < 0 || pattern.month < 0 || pattern.day < 0 {
		return nil, fmt.Errorf("pattern %q needs year, month & day groups", expression)
	}

	return pattern, nil
}

func MustCompilePattern(expression string) *Pattern {
	pattern, err := CompilePattern(expression)
	if err != nil {
		panic(err)
	}
	return pattern
}

func (p *Pattern) String() string {
	return p.expression.String()
}

type DatedFile struct {
	Object ObjectInfo

	Year  int
	Month int
	Day   int
}

func (f DatedFile) Date() time.Time {
	return time.Date(f.Year, time.Month(f.Month), f.Day, 0, 0, 0, 0, time.UTC)
}

// Match returns the date encoded in the object name
func (p *Pattern) Match(object ObjectInfo) (DatedFile, bool) {
	matches := p.expression.FindStringSubmatch(object.Name)
	if matches == nil {
		return DatedFile{}, false
	}

	year, yearErr := strconv.Atoi(matches[p.year])
	month, monthErr := strconv.Atoi(matches[p.month])
	day, dayErr := strconv.Atoi(matches[p.day])
	if yearErr != nil || monthErr != nil || dayErr != nil {
		return DatedFile{}, false
	}

	// Two digit years are this century
	if year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return DatedFile{}, false
	}

	return DatedFile{Object: object, Year: year, Month: month, Day: day}, true
}

// Newer orders by (year, month, day), equal dates fall back to the name
func Newer(a DatedFile, b DatedFile) bool {
	if a.Year != b.Year {
		return a.Year > b.Year
	}
	if a.Month != b.Month {
		return a.Month > b.Month
	}
	if a.Day != b.Day {
		return a.Day > b.Day
	}
	return a.Object.Name > b.Object.Name
}

// Latest picks the newest object matching the pattern
func (p *Pattern) Latest(objects []ObjectInfo) (DatedFile, error) {
	var latest DatedFile
	found := false

	for _, object := range objects {
		file, matches := p.Match(object)
		if !matches {
			continue
		}

		if !found || Newer(file, latest) {
			latest = file
			found = true
		}
	}

	if !found {
		return DatedFile{}, fmt.Errorf("%w: %s", ErrNoMatchingFile, p)
	}

	return latest, nil
}
