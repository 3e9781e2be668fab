package opts

import (
	"strings"

	"github.com/spf13/pflag"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/implicit"
)

// SchemeValue is a pflag.Value accepting QUADTREE or OCTREE in any case
type SchemeValue implicit.SubdivisionScheme

var _ pflag.Value = (*SchemeValue)(nil)

func (s *SchemeValue) String() string { return string(*s) }

func (s *SchemeValue) Set(v string) error {
	switch scheme := implicit.SubdivisionScheme(strings.ToUpper(v)); scheme {
	case implicit.Quadtree, implicit.Octree:
		*s = SchemeValue(scheme)
		return nil
	default:
		return errors.Errorf("unknown subdivision scheme %q", v)
	}
}

func (s *SchemeValue) Type() string { return "scheme" }
