//go:build !linux

package tcp

// writeFileChunk falls back to the generic read+write loop on platforms
// with no sendfile(2) fast path wired (the original's own fallback
// behavior on platforms lacking sendfile).
func (c *Conn) writeFileChunk(node *bufferNode) (done bool, err error) {
	return c.writeFileChunkGeneric(node)
}
