package lab

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

type LabName string

var labNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,22}[a-z0-9])?$`)

// Validate checks that the name can be used as a prefix for load balancer
// and target group names, which AWS limits to 32 characters.
func (n LabName) Validate() error {
	if !labNamePattern.MatchString(string(n)) {
		return errors.Errorf("invalid lab name %q: use 1-24 lowercase letters, digits or hyphens", n)
	}
	return nil
}

// ResourceName builds a provider-side name for a lab resource, truncated to maxLen.
func ResourceName(labName LabName, name string, maxLen int) string {
	resourceName := string(labName)
	if name != "" {
		resourceName += "-" + name
	}
	if maxLen > 0 && len(resourceName) > maxLen {
		resourceName = strings.TrimRight(resourceName[:maxLen], "-")
	}
	return resourceName
}

// ParseTags turns key=value pairs given on the command line into Tags.
func ParseTags(tagsList []string) (Tags, error) {
	tags := make(Tags)
	for _, tag := range tagsList {
		keyVal := strings.Split(tag, "=")
		if len(keyVal) != 2 || keyVal[0] == "" {
			return nil, errors.Errorf("invalid tag %q: expected key=value and '=' is not allowed in keys and values", tag)
		}
		tags[keyVal[0]] = keyVal[1]
	}
	return tags, nil
}
