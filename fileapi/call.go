package fileapi

import (
	"context"
	"time"

	"go.uber.org/zap"

	ipcf "github.com/wippyai/irm-fileapi"
	"github.com/wippyai/irm-fileapi/errors"
)

// call tracks the engine resources acquired by one adapter operation.
// end releases them in reverse acquisition order: marshaled strings, the
// output allocation, then the prompt context.
type call struct {
	ctx      context.Context
	a        *Adapter
	err      error
	op       string
	path     string
	strs     []ipcf.Ptr
	start    time.Time
	out      ipcf.Ptr
	pc       ipcf.PromptContext
	havePC   bool
	kind     ipcf.LicenseInfoType
	status   ipcf.Status
	licensed bool
}

func newCall(ctx context.Context, a *Adapter, op, path string) *call {
	return &call{
		ctx:   ctx,
		a:     a,
		op:    op,
		path:  path,
		start: time.Now(),
	}
}

func (c *call) prompt(p ipcf.PromptParams) error {
	pc, err := c.a.engine.NewPromptContext(c.ctx, p)
	if err != nil {
		return c.fail(errors.New(errors.PhasePrompt, errors.KindTrap).
			Op(c.op).Path(c.path).Cause(err).Detail("create prompt context").Build())
	}
	c.pc = pc
	c.havePC = true
	return nil
}

// license marshals l into the engine argument and its discriminator.
// Template ids are copied into engine memory; handles pass through.
func (c *call) license(l ipcf.License) (ipcf.Ptr, ipcf.LicenseInfoType, error) {
	switch v := l.(type) {
	case ipcf.TemplateID:
		p, err := c.a.engine.AllocString(c.ctx, string(v))
		if err != nil {
			return ipcf.Null, 0, c.fail(errors.New(errors.PhaseMarshal, errors.KindAllocation).
				Op(c.op).Path(c.path).Cause(err).Detail("marshal template id").Build())
		}
		c.strs = append(c.strs, p)
		c.kind, c.licensed = v.InfoType(), true
		return p, ipcf.LicenseInfoTemplateID, nil
	case ipcf.LicenseHandle:
		c.kind, c.licensed = v.InfoType(), true
		return ipcf.Ptr(v), ipcf.LicenseInfoHandle, nil
	default:
		return ipcf.Null, 0, c.invalid("license must be a TemplateID or LicenseHandle")
	}
}

// check turns a boundary fault or non-zero status into an error.
func (c *call) check(st ipcf.Status, err error) error {
	c.status = st
	if err != nil {
		return c.fail(errors.Trap(c.op, c.path, err))
	}
	if st.Failed() {
		return c.fail(errors.FromStatus(c.op, c.path, st))
	}
	return nil
}

// outputName reads the engine's output name, falling back to fallback when
// the engine reported none.
func (c *call) outputName(fallback string) (string, error) {
	name, err := c.a.engine.String(c.ctx, c.out)
	if err != nil {
		return "", c.fail(errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
			Op(c.op).Path(c.path).Cause(err).Detail("read output name").Build())
	}
	if name == "" {
		return fallback, nil
	}
	return name, nil
}

func (c *call) outputBuffer() ([]byte, error) {
	data, err := c.a.engine.Buffer(c.ctx, c.out)
	if err != nil {
		return nil, c.fail(errors.New(errors.PhaseUnmarshal, errors.KindInvalidData).
			Op(c.op).Path(c.path).Cause(err).Detail("read license buffer").Build())
	}
	return data, nil
}

func (c *call) invalid(detail string) error {
	return c.fail(errors.New(errors.PhaseMarshal, errors.KindInvalidInput).
		Op(c.op).Path(c.path).Detail("%s", detail).Build())
}

func (c *call) fail(err error) error {
	c.err = err
	return err
}

// end releases everything the call acquired. It runs deferred, so it also
// covers panics raised by the engine.
func (c *call) end() {
	for i := len(c.strs) - 1; i >= 0; i-- {
		c.a.engine.FreeString(c.ctx, c.strs[i])
	}
	c.strs = nil

	if c.out != ipcf.Null {
		c.a.engine.FreeMemory(c.ctx, c.out)
		c.out = ipcf.Null
	}

	if c.havePC {
		c.a.engine.ReleasePromptContext(c.ctx, c.pc)
		c.havePC = false
	}

	c.log()
}

func (c *call) log() {
	fields := []zap.Field{
		zap.String("op", c.op),
		zap.String("path", c.path),
		zap.Stringer("status", c.status),
		zap.Duration("elapsed", time.Since(c.start)),
	}
	if c.licensed {
		fields = append(fields, zap.Stringer("license_type", c.kind))
	}
	if c.err != nil {
		c.a.logger.Warn("engine call failed", append(fields, zap.Error(c.err))...)
		return
	}
	c.a.logger.Debug("engine call", fields...)
}
