package sap

import (
	"github.com/blang/semver/v4"
)

// Version of the sap module
var Version = semver.MustParse("0.1.0")
