package engine

import (
	"context"
	"encoding/binary"

	ipcf "github.com/wippyai/irm-fileapi"
)

// Prompt context layout in guest memory.
const (
	promptCtxSize      = 32
	promptFlagsOffset  = 0
	promptParentOffset = 8
	promptKeyOffset    = 16
	promptAppIDOffset  = 20
	promptTenantOffset = 24
)

// promptAlloc records the guest allocations behind one prompt context.
type promptAlloc struct {
	strs []uint32
	ctx  uint32
}

// encodePromptCtx lays out the fixed part of a prompt context. String
// pointers are patched in after the strings are allocated.
func encodePromptCtx(p ipcf.PromptParams, key, appID, tenant uint32) []byte {
	buf := make([]byte, promptCtxSize)
	binary.LittleEndian.PutUint32(buf[promptFlagsOffset:], p.Flags())
	binary.LittleEndian.PutUint64(buf[promptParentOffset:], uint64(p.ParentWindow))
	binary.LittleEndian.PutUint32(buf[promptKeyOffset:], key)
	binary.LittleEndian.PutUint32(buf[promptAppIDOffset:], appID)
	binary.LittleEndian.PutUint32(buf[promptTenantOffset:], tenant)
	return buf
}

// newPromptCtxLocked allocates and fills a prompt context. On failure every
// allocation made so far is released.
func (e *Engine) newPromptCtxLocked(ctx context.Context, p ipcf.PromptParams) (pa promptAlloc, err error) {
	defer func() {
		if err != nil {
			e.freePromptLocked(ctx, pa)
			pa = promptAlloc{}
		}
	}()

	var key, appID, tenant uint32
	if k := p.SymmetricKey; k != nil {
		for _, s := range []struct {
			dst *uint32
			val string
		}{
			{&key, k.Base64Key},
			{&appID, k.AppPrincipalID},
			{&tenant, k.TenantID},
		} {
			ptr, err := e.cstringLocked(ctx, s.val)
			if err != nil {
				return pa, err
			}
			pa.strs = append(pa.strs, ptr)
			*s.dst = ptr
		}
	}

	ptr, err := e.allocLocked(ctx, promptCtxSize)
	if err != nil {
		return pa, err
	}
	pa.ctx = ptr
	if err := e.mem().write(ptr, encodePromptCtx(p, key, appID, tenant)); err != nil {
		return pa, err
	}
	return pa, nil
}

func (e *Engine) freePromptLocked(ctx context.Context, pa promptAlloc) {
	if pa.ctx != 0 {
		e.freeLocked(ctx, pa.ctx)
	}
	for i := len(pa.strs) - 1; i >= 0; i-- {
		e.freeLocked(ctx, pa.strs[i])
	}
}
