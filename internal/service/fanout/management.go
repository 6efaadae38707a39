package fanout

import (
	"fmt"
	"regexp"

	"github.com/pbspro/sched-ctl/internal/domain/model"
)

// objectNamePattern mirrors a PBS-style object name: alphanumerics,
// dot, dash, underscore, at-sign (for queue@server forms).
var objectNamePattern = regexp.MustCompile(`^[A-Za-z0-9._@-]+$`)

// attrNamePattern accepts a bare attribute name or a
// resource.sub-resource qualified one.
var attrNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)?$`)

// verifyManagementRequest checks object name syntax unconditionally on
// create, and attribute syntax when verification is enabled, per
// spec.md §4.4.5.
func verifyManagementRequest(req model.ManagementRequest, verifyAttrs bool) error {
	if req.Op == model.Create {
		if req.ObjectName == "" || !objectNamePattern.MatchString(req.ObjectName) {
			return fmt.Errorf("fanout: invalid object name %q", req.ObjectName)
		}
	}

	if !verifyAttrs {
		return nil
	}
	for _, a := range req.Attribs {
		name := a.Name
		if a.Resource != "" {
			name = a.Name + "." + a.Resource
		}
		if !attrNamePattern.MatchString(name) {
			return fmt.Errorf("fanout: invalid attribute syntax %q", name)
		}
	}
	return nil
}
