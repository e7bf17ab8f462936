package shmpipe

import "unsafe"

func unsafeBytes(words []uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
}

func wordBytes(w *semaphoreWord) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(w)), semaphoreWordSize)
}
