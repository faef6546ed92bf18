package ids

import (
	"strconv"
	"sync"
	"time"
)

// Epoch is the zero point of generated ids.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Node issues 63-bit snowflake ids: 41 bits of milliseconds since Epoch,
// 10 bits of node id and a 12-bit per-millisecond sequence.
type Node struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() time.Time
}

func NewNode(nodeID int64) *Node {
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	return &Node{
		epochMS: Epoch.UnixMilli(),
		nodeID:  nodeID,
		now:     time.Now,
	}
}

var (
	defaultNode *Node
	once        sync.Once
)

func node() *Node {
	once.Do(func() { defaultNode = NewNode(1) })
	return defaultNode
}

// Generate 生成一个新的雪花ID
func Generate() int64 {
	return node().Next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID 设置默认节点的 nodeID（0~1023），在 main() 初始化时调用
func SetNodeID(nodeID int64) {
	n := node()
	n.mu.Lock()
	defer n.mu.Unlock()
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	n.nodeID = nodeID
}

func (n *Node) Next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	for {
		now := n.now().UnixMilli()
		if now < n.lastTSMS {
			// 时钟回拨，等待
			time.Sleep(time.Duration(n.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == n.lastTSMS {
			n.seq = (n.seq + 1) & 0xFFF
			if n.seq == 0 {
				for now <= n.lastTSMS {
					now = n.now().UnixMilli()
				}
			}
		} else {
			n.seq = 0
		}
		n.lastTSMS = now

		ts := (now - n.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (n.nodeID << 12) | n.seq
	}
}
