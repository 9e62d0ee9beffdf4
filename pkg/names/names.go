// Package names validates topic, namespace and partition strings and
// composes/parses the fully qualified names the discovery and node layers
// key everything on.
package names

import (
	"fmt"
	"strings"

	"github.com/meshbus/meshbus/pkg/types"
)

// maxNameLength is the maximum byte length of any name component and of a
// fully composed fully qualified name.
const maxNameLength = 65535

// msgInfix and srvInfix mark the typed variants of a fully qualified name:
// "@<partition>@msg@<topic>" and "@<partition>@srv@<topic>".
const (
	msgInfix = "msg"
	srvInfix = "srv"
)

// IsValidTopic reports whether topic obeys the naming rules: non-empty, no
// whitespace, no '~', '@' or "//", and no longer than 65535 bytes.
func IsValidTopic(topic string) bool {
	if topic == "" || len(topic) > maxNameLength {
		return false
	}
	return isValidNameBody(topic)
}

// IsValidNamespace reports whether namespace obeys the topic rules but may
// be empty; a bare "/" is rejected.
func IsValidNamespace(namespace string) bool {
	if namespace == "" {
		return true
	}
	if namespace == "/" || len(namespace) > maxNameLength {
		return false
	}
	return isValidNameBody(namespace)
}

// IsValidPartition reports whether partition obeys the namespace rules
// (may be empty, same character restrictions).
func IsValidPartition(partition string) bool {
	return IsValidNamespace(partition)
}

func isValidNameBody(s string) bool {
	for _, r := range s {
		if r == '~' || r == '@' {
			return false
		}
		if r <= ' ' {
			// whitespace and control characters
			return false
		}
	}
	return !strings.Contains(s, "//")
}

// FullyQualifiedName composes the canonical "@<partition>@<topic>" form.
// If topic begins with '/', namespace is ignored; otherwise the topic is
// joined as "<namespace>/<topic>" before the partition is prefixed.
func FullyQualifiedName(partition, namespace, topic string) (string, error) {
	return compose(partition, namespace, topic, "")
}

// FullyQualifiedMsgName composes the "@<partition>@msg@<topic>" form.
func FullyQualifiedMsgName(partition, namespace, topic string) (string, error) {
	return compose(partition, namespace, topic, msgInfix)
}

// FullyQualifiedSrvName composes the "@<partition>@srv@<topic>" form.
func FullyQualifiedSrvName(partition, namespace, topic string) (string, error) {
	return compose(partition, namespace, topic, srvInfix)
}

func compose(partition, namespace, topic, infix string) (string, error) {
	if !IsValidPartition(partition) || !IsValidNamespace(namespace) || !IsValidTopic(topic) {
		return "", types.ErrInvalidName
	}

	full := topic
	if !strings.HasPrefix(topic, "/") && namespace != "" {
		full = namespace + "/" + topic
	}

	var b strings.Builder
	b.WriteByte('@')
	b.WriteString(partition)
	b.WriteByte('@')
	if infix != "" {
		b.WriteString(infix)
		b.WriteByte('@')
	}
	b.WriteString(full)

	name := b.String()
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidName, types.ErrNameTooLong)
	}
	return name, nil
}

// PartitionFromName extracts the partition prefix from a fully qualified
// name, i.e. the text between the first and second '@'.
func PartitionFromName(fqName string) (string, bool) {
	if len(fqName) == 0 || fqName[0] != '@' {
		return "", false
	}
	rest := fqName[1:]
	idx := strings.IndexByte(rest, '@')
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}

// TypeFromName extracts the typed-variant infix ("msg" or "srv") from a
// fully qualified name produced by FullyQualifiedMsgName/FullyQualifiedSrvName.
// It reports false if the name has no typed infix.
func TypeFromName(fqName string) (string, bool) {
	partition, ok := PartitionFromName(fqName)
	if !ok {
		return "", false
	}
	rest := fqName[1+len(partition)+1:]
	idx := strings.IndexByte(rest, '@')
	if idx < 0 {
		return "", false
	}
	infix := rest[:idx]
	if infix != msgInfix && infix != srvInfix {
		return "", false
	}
	return infix, true
}

// TopicFromName returns the bare topic portion following the partition
// (and, if present, the typed infix) of a fully qualified name.
func TopicFromName(fqName string) (string, bool) {
	partition, ok := PartitionFromName(fqName)
	if !ok {
		return "", false
	}
	rest := fqName[1+len(partition)+1:]
	if infix, hasInfix := TypeFromName(fqName); hasInfix {
		rest = rest[len(infix)+1:]
	}
	return rest, true
}
