package cli

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hlop3z/lodestone/internal/alerr"
)

// shown in the header lines rather than as details.
var locationKeys = map[string]bool{"file": true, "line": true, "helps": true}

// FormatError formats err for the terminal in Cargo/rustc style:
//
//	error[E1001]: model posts has no primary key
//	  --> models/blog.yaml:12
//	   |
//	   | table: posts
//	help: add a field named id or mark one field pk: true
//
// Joined errors are formatted one after the other.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var b strings.Builder
		for _, e := range joined.Unwrap() {
			b.WriteString(FormatError(e))
		}
		return b.String()
	}
	var ae *alerr.Error
	if errors.As(err, &ae) {
		return formatAlerr(ae)
	}
	return Error("error") + ": " + err.Error() + "\n"
}

func formatAlerr(err *alerr.Error) string {
	var b strings.Builder
	ctx := err.GetContext()

	fmt.Fprintf(&b, "%s[%s]: %s\n", Error("error"), Code(string(err.GetCode())), err.GetMessage())

	if file, _ := ctx["file"].(string); file != "" {
		loc := file
		if line, ok := ctx["line"].(int); ok && line > 0 {
			loc = fmt.Sprintf("%s:%d", file, line)
		}
		fmt.Fprintf(&b, "  %s %s\n", Dim("-->"), FilePath(loc))
	}

	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		if !locationKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintf(&b, "   %s\n", Dim("|"))
		for _, k := range keys {
			fmt.Fprintf(&b, "   %s %s: %s\n", Dim("|"), k, oneLine(fmt.Sprint(ctx[k])))
		}
	}

	if cause := err.GetCause(); cause != nil {
		fmt.Fprintf(&b, "   %s cause: %s\n", Dim("="), oneLine(cause.Error()))
	}
	for _, help := range err.Helps() {
		fmt.Fprintf(&b, "%s: %s\n", Help("help"), help)
	}
	return b.String()
}

// oneLine keeps multi-line values such as SQL on a single detail line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FormatWarning formats a warning line.
func FormatWarning(msg string) string {
	return Warning("warning") + ": " + msg + "\n"
}

// FormatSuccess formats a success line.
func FormatSuccess(msg string) string {
	return Success("✓") + " " + msg + "\n"
}
