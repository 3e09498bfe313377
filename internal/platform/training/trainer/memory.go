// internal/platform/training/trainer/memory.go
package trainer

import (
	"runtime"
	"runtime/debug"
)

// lowFreeMemoryKiB 预留但未分配的内存低于该值时强制回收
const lowFreeMemoryKiB = 100

// MemoryStats 返回预留与已分配的字节数
type MemoryStats func() (reserved, allocated uint64)

// RuntimeMemory 以堆向系统申请的字节数为预留量
func RuntimeMemory() (reserved, allocated uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapSys, ms.HeapAlloc
}

// lowFreeMemory 预留减已分配低于阈值
func lowFreeMemory(stats MemoryStats) bool {
	reserved, allocated := stats()
	if reserved <= allocated {
		return true
	}
	return float64(reserved-allocated)/1024 < lowFreeMemoryKiB
}

// releaseMemory 强制垃圾回收并把空闲页还给系统
func releaseMemory() {
	debug.FreeOSMemory()
}

//Personal.AI order the ending
