package domain

import (
	"fmt"
	"strings"
)

//DeletePolicy decides who may delete a pin
type DeletePolicy string

const (
	//DeleteOwnPins only lets the author delete a pin
	DeleteOwnPins DeletePolicy = "author"
	//DeleteAnyPin lets any signed in user delete any pin
	DeleteAnyPin DeletePolicy = "any"
)

//ParseDeletePolicy parses a policy name, defaulting to DeleteOwnPins
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch DeletePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeleteOwnPins:
		return DeleteOwnPins, nil
	case DeleteAnyPin:
		return DeleteAnyPin, nil
	}
	return "", fmt.Errorf("unknown delete policy %q", s)
}

//Allows returns true if the identity may delete the pin
func (p DeletePolicy) Allows(identity *Identity, pin Pin) bool {
	if identity == nil || identity.ID == "" {
		return false
	}

	if p == DeleteAnyPin {
		return true
	}

	return pin.AuthorID == identity.ID
}
