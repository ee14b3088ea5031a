package module

import (
	"fmt"
	"sync"

	"github.com/mattjoyce/couchgo/internal/compiler"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

// Module is a loaded artifact.
type Module struct {
	Key  compiler.Key
	Path string
	Proc abi.Proc

	loader Loader
	once   sync.Once
	err    error
}

// Close runs the plugin's OnClose hook once, then releases the artifact.
// It must not be called while an operation of Proc is running.
func (m *Module) Close() error {
	m.once.Do(func() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.err = fmt.Errorf("OnClose panicked: %v", r)
				}
			}()
			m.Proc.OnClose()
		}()
		if err := m.loader.Release(m.Path); err != nil && m.err == nil {
			m.err = fmt.Errorf("release %s: %w", m.Path, err)
		}
	})
	return m.err
}
