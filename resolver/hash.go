package resolver

import (
	"github.com/flexigpt/skillregistry-go/compiler"
	"github.com/flexigpt/skillregistry-go/spec"
)

func compileForHash(s spec.Spec) string {
	return compiler.ContentHash(compiler.Compile(s).Bytes)
}

func compiledHash(s spec.Spec) string {
	return compileForHash(s)
}
