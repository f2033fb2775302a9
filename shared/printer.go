package shared

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

type StringWriteCloser interface {
	io.Closer
	io.StringWriter
}

type WriteCloser struct {
	w io.WriteCloser
}

func NewWriteCloser(w io.WriteCloser) StringWriteCloser {
	if w == nil {
		return nil
	}
	return &WriteCloser{w: w}
}

func (wc *WriteCloser) WriteString(s string) (n int, err error) {
	return wc.w.Write([]byte(s))
}

func (wc *WriteCloser) Close() error {
	return wc.w.Close()
}

// Printer fans transcript lines out to one or more hooks, indenting
// continuation lines so multi-line replies stay aligned under their label.
type Printer struct {
	mu     sync.Mutex
	indStr string
	hooks  []StringWriteCloser
}

func NewPrinter(indentString string, hooks ...StringWriteCloser) (*Printer, error) {
	if len(hooks) == 0 {
		return nil, errors.New("no hook provided")
	}
	for _, hook := range hooks {
		if hook == nil {
			return nil, errors.New("a nil pointed hook is given")
		}
	}
	return &Printer{indStr: indentString, hooks: hooks}, nil
}

func (p *Printer) Write(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(strings.Repeat(p.indStr, ind), s)
}

func (p *Printer) Writeln(s string, ind int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(strings.Repeat(p.indStr, ind), s); err != nil {
		return err
	}
	return p.emit("\n")
}

// Labeled prints "label: text" with continuation lines indented to the
// width of the label.
func (p *Printer) Labeled(label, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	head := label + ": "
	if err := p.emit(head); err != nil {
		return err
	}
	lines := strings.Split(text, "\n")
	if err := p.emit(lines[0]); err != nil {
		return err
	}
	pad := strings.Repeat(" ", len(head))
	for _, line := range lines[1:] {
		if err := p.emit("\n" + pad + line); err != nil {
			return err
		}
	}
	return p.emit("\n")
}

func (p *Printer) write(indent, s string) error {
	first := true
	for line := range strings.SplitSeq(s, "\n") {
		if first {
			first = false
			line = indent + line
		} else {
			line = "\n" + indent + line
		}
		if err := p.emit(line); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) emit(s string) error {
	for _, hook := range p.hooks {
		if _, err := hook.WriteString(s); err != nil {
			return fmt.Errorf("on writing to hook: %w", err)
		}
	}
	return nil
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hook := range p.hooks {
		if err := hook.Close(); err != nil {
			return fmt.Errorf("on closing hook: %w", err)
		}
	}
	return nil
}
