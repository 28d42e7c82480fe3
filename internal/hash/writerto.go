package hash

import "io"

// WriterToWithDomain is a value that writes itself under a domain name, so that
// two types producing the same bytes still hash differently.
type WriterToWithDomain interface {
	io.WriterTo
	Domain() string
}

// writeWithDomain writes "(" domain data ")".
func writeWithDomain(w io.Writer, v WriterToWithDomain) error {
	if _, err := io.WriteString(w, "("+v.Domain()); err != nil {
		return err
	}
	if _, err := v.WriteTo(w); err != nil {
		return err
	}
	_, err := io.WriteString(w, ")")
	return err
}

// tagged is raw data under a fixed domain.
type tagged struct {
	domain string
	data   []byte
}

func (t tagged) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(t.data)
	return int64(n), err
}

func (t tagged) Domain() string {
	return t.domain
}
