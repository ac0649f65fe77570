package idcapture

import "regexp"

var (
	ansiCSI     = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	ansiOSC     = regexp.MustCompile(`\x1b\].*?(?:\x07|\x1b\\)`)
	ansiDCS     = regexp.MustCompile(`\x1bP.*?\x1b\\`)
	ansiPM      = regexp.MustCompile(`\x1b\^.*?\x1b\\`)
	ansiAPC     = regexp.MustCompile(`\x1b_.*?\x1b\\`)
	ansiCharset = regexp.MustCompile(`\x1b[()][0-9A-Za-z]`)
	ansiKeypad  = regexp.MustCompile(`\x1b[=>]`)
	ansiSingle  = regexp.MustCompile(`\x1b.`)
)

// StripForMatching strips ANSI/CSI/OSC escape sequences and carriage
// returns from a byte slice for the sole purpose of pattern matching. It
// returns a new slice and never writes to b, so passing the live window
// leaves it, and the bytes forwarded downstream, unchanged.
func StripForMatching(b []byte) []byte {
	s := b
	s = ansiCSI.ReplaceAll(s, nil)
	s = ansiOSC.ReplaceAll(s, nil)
	s = ansiDCS.ReplaceAll(s, nil)
	s = ansiPM.ReplaceAll(s, nil)
	s = ansiAPC.ReplaceAll(s, nil)
	s = ansiCharset.ReplaceAll(s, nil)
	s = ansiKeypad.ReplaceAll(s, nil)
	s = ansiSingle.ReplaceAll(s, nil)

	out := make([]byte, 0, len(s))
	for _, ch := range s {
		if ch == '\r' {
			continue
		}
		if (ch < 0x20 || ch == 0x7f) && ch != '\n' && ch != '\t' {
			continue
		}
		out = append(out, ch)
	}
	return out
}
