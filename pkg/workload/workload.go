package workload

import "fmt"

// Ref addresses one managed Deployment by name and namespace. All healing
// state and remediation actions are keyed by this identity.
type Ref struct {
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// NewRef returns a Ref, defaulting the namespace to "default" when empty.
func NewRef(name, namespace string) Ref {
	if namespace == "" {
		namespace = "default"
	}
	return Ref{Name: name, Namespace: namespace}
}

// String renders the ref as namespace/name.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.Namespace, r.Name)
}
