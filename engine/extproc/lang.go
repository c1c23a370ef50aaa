package extproc

import (
	_ "embed"
)

//go:embed wrapper.py
var pythonWrapper []byte

//go:embed wrapper.pl
var perlWrapper []byte

// pythonStub a -c program that collects stdin up to the sentinel and
// executes it; the wrapper then keeps reading the same stream as its
// request loop. -u keeps both directions unbuffered.
const pythonStub = `import sys
src = []
for line in sys.stdin:
    if line.rstrip("\n") == "` + Sentinel + `":
        break
    src.append(line)
exec(compile("".join(src), "<wrapper>", "exec"))
`

// perlStub the same bootstrap for perl -e
const perlStub = `my $src = ""; while (defined(my $l = <STDIN>)) { last if $l eq "` + Sentinel + `\n"; $src .= $l; } $| = 1; eval $src; print STDERR $@ if $@;`

// NewPython the out-of-process Python engine
func NewPython(command string) *Engine {
	if command == "" {
		command = "python3"
	}
	return New(Config{
		Name:       "python",
		Extensions: []string{".py"},
		Command:    command,
		Args:       []string{"-u", "-c", pythonStub},
		Wrapper:    pythonWrapper,
	})
}

// NewPerl the out-of-process Perl engine
func NewPerl(command string) *Engine {
	if command == "" {
		command = "perl"
	}
	return New(Config{
		Name:       "perl",
		Extensions: []string{".pl"},
		Command:    command,
		Args:       []string{"-e", perlStub},
		Wrapper:    perlWrapper,
	})
}
