package abastack

import "unsafe"

func uintptrOf(n *Node) uintptr {
	return uintptr(unsafe.Pointer(n))
}

func ptrFromUintptr(p uintptr) *Node {
	if p == 0 {
		return nil
	}
	return (*Node)(unsafe.Pointer(p))
}
