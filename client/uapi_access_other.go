//go:build !linux && !darwin && !freebsd && !openbsd

package main

func checkSocketAccess(string) error { return nil }
