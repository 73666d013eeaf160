package passage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"studysync/pkg/interfaces"
)

// Reference is a parsed "Book chapter:verse[-verse]" reference.
type Reference struct {
	Book    string
	Code    string
	Chapter int
	Start   int
	End     int
}

var referencePattern = regexp.MustCompile(`^\s*((?:[1-3]\s*)?[A-Za-z]+(?:\s+[A-Za-z]+)*)\s+(\d{1,3}):(\d{1,3})(?:\s*-\s*(\d{1,3}))?\s*$`)

// books maps lower-cased book names to USFM codes.
var books = map[string]string{
	"genesis": "GEN", "exodus": "EXO", "leviticus": "LEV", "numbers": "NUM", "deuteronomy": "DEU",
	"joshua": "JOS", "judges": "JDG", "ruth": "RUT", "1 samuel": "1SA", "2 samuel": "2SA",
	"1 kings": "1KI", "2 kings": "2KI", "1 chronicles": "1CH", "2 chronicles": "2CH",
	"ezra": "EZR", "nehemiah": "NEH", "esther": "EST", "job": "JOB", "psalms": "PSA", "psalm": "PSA",
	"proverbs": "PRO", "ecclesiastes": "ECC", "song of solomon": "SNG", "song of songs": "SNG",
	"isaiah": "ISA", "jeremiah": "JER", "lamentations": "LAM", "ezekiel": "EZK", "daniel": "DAN",
	"hosea": "HOS", "joel": "JOL", "amos": "AMO", "obadiah": "OBA", "jonah": "JON", "micah": "MIC",
	"nahum": "NAM", "habakkuk": "HAB", "zephaniah": "ZEP", "haggai": "HAG", "zechariah": "ZEC",
	"malachi": "MAL",
	"matthew": "MAT", "mark": "MRK", "luke": "LUK", "john": "JHN", "acts": "ACT", "romans": "ROM",
	"1 corinthians": "1CO", "2 corinthians": "2CO", "galatians": "GAL", "ephesians": "EPH",
	"philippians": "PHP", "colossians": "COL", "1 thessalonians": "1TH", "2 thessalonians": "2TH",
	"1 timothy": "1TI", "2 timothy": "2TI", "titus": "TIT", "philemon": "PHM", "hebrews": "HEB",
	"james": "JAS", "1 peter": "1PE", "2 peter": "2PE", "1 john": "1JN", "2 john": "2JN",
	"3 john": "3JN", "jude": "JUD", "revelation": "REV",
}

// ParseReference normalizes a human reference such as "romans 8:28" or
// "1 John 4:7-8". Unknown books and malformed input are ErrInvalidReference.
func ParseReference(s string) (Reference, error) {
	m := referencePattern.FindStringSubmatch(s)
	if m == nil {
		return Reference{}, fmt.Errorf("%w: %q", interfaces.ErrInvalidReference, s)
	}

	book := strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
	if len(book) > 1 && book[0] >= '1' && book[0] <= '3' && book[1] != ' ' {
		book = book[:1] + " " + book[1:]
	}
	code, ok := books[book]
	if !ok {
		return Reference{}, fmt.Errorf("%w: unknown book %q", interfaces.ErrInvalidReference, m[1])
	}

	chapter, _ := strconv.Atoi(m[2])
	start, _ := strconv.Atoi(m[3])
	end := start
	if m[4] != "" {
		end, _ = strconv.Atoi(m[4])
	}
	if chapter == 0 || start == 0 || end < start {
		return Reference{}, fmt.Errorf("%w: %q", interfaces.ErrInvalidReference, s)
	}

	return Reference{Book: titleCase(book), Code: code, Chapter: chapter, Start: start, End: end}, nil
}

// String is the canonical form used as the cache key and the passage
// reference shown to clients.
func (r Reference) String() string {
	if r.End != r.Start {
		return fmt.Sprintf("%s %d:%d-%d", r.Book, r.Chapter, r.Start, r.End)
	}
	return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.Start)
}

// Path is the lookup path below the service base URL.
func (r Reference) Path() string {
	verses := strconv.Itoa(r.Start)
	if r.End != r.Start {
		verses += "-" + strconv.Itoa(r.End)
	}
	return fmt.Sprintf("/verses/%s/%d/%s", r.Code, r.Chapter, verses)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "of" && i > 0 {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
