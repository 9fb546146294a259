// Copyright 2025 The stitch Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package disasm

import (
	"fmt"

	"github.com/go-rewriter/stitch/addr"
)

// TruncatedInstructionError is returned when the sweep cannot decode an
// instruction inside the text range.
type TruncatedInstructionError struct {
	Addr addr.Concrete
}

func (e TruncatedInstructionError) Error() string {
	return fmt.Sprintf("cannot decode instruction at %v", e.Addr)
}
