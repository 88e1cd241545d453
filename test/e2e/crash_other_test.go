//go:build !(darwin && cgo)

package e2e

func crash() {}
