package cache

// ScopedKeyer wraps a Keyer with a prefix so several tools or environments
// can share one Redis instance without key collisions.
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "eqrender:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// PDFKey generates a prefixed key for PDF caching.
func (k *ScopedKeyer) PDFKey(opts PDFKeyOpts) string {
	return k.prefix + k.inner.PDFKey(opts)
}

// PNGKey generates a prefixed key for PNG caching.
func (k *ScopedKeyer) PNGKey(pdfHash string, opts PNGKeyOpts) string {
	return k.prefix + k.inner.PNGKey(pdfHash, opts)
}
