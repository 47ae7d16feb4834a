// 文件: pkg/asset/wal.go
// 资产账本 WAL (Write-Ahead Log)
//
// 核心原则:
// 1. 先写日志，再修改内存
// 2. 崩溃后通过重放日志恢复余额与授权
//
// 帧格式: [长度 4B][数据][CRC32 4B]

package asset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// =============================================================================
// WAL 条目格式
// =============================================================================

// WALEntryType 条目类型
type WALEntryType uint8

const (
	WALMint         WALEntryType = iota + 1 // 增发
	WALApprove                              // 授权
	WALTransfer                             // 直接转账
	WALTransferFrom                         // 授权转账
)

func (t WALEntryType) String() string {
	switch t {
	case WALMint:
		return "MINT"
	case WALApprove:
		return "APPROVE"
	case WALTransfer:
		return "TRANSFER"
	case WALTransferFrom:
		return "TRANSFER_FROM"
	default:
		return "UNKNOWN"
	}
}

// WALEntry WAL 条目
type WALEntry struct {
	Seq       uint64
	Type      WALEntryType
	Timestamp int64
	Symbol    string

	Spender common.Address
	From    common.Address
	To      common.Address
	Amount  decimal.Decimal
}

// =============================================================================
// WAL 写入器
// =============================================================================

// WAL Write-Ahead Log
type WAL struct {
	dir    string
	file   *os.File
	writer *bufio.Writer

	seq uint64
	mu  sync.Mutex
	buf []byte
}

// WALConfig WAL 配置
type WALConfig struct {
	Dir  string // 日志目录
	Name string // 文件名 (默认 ledger.wal)
}

// NewWAL 创建 WAL
func NewWAL(cfg WALConfig) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	name := cfg.Name
	if name == "" {
		name = "ledger.wal"
	}

	path := filepath.Join(cfg.Dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}

	return &WAL{
		dir:    cfg.Dir,
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		buf:    make([]byte, 0, 256),
	}, nil
}

// Write 写入条目并刷到文件
//
// 账本条目量远小于撮合，每条都 Flush，保证返回成功即已落到 page cache
func (w *WAL) Write(entry *WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	entry.Seq = w.seq
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixNano()
	}

	data := w.encodeEntry(entry)
	length := uint32(len(data))
	crc := crc32.ChecksumIEEE(data)

	if err := binary.Write(w.writer, binary.LittleEndian, length); err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if err := binary.Write(w.writer, binary.LittleEndian, crc); err != nil {
		return err
	}
	return w.writer.Flush()
}

// Sync 刷盘
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close 关闭
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	return w.file.Close()
}

// GetSequence 当前序列号
func (w *WAL) GetSequence() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// =============================================================================
// 序列化
// =============================================================================

// encodeEntry 格式: seq(8) type(1) ts(8) symbol(2+n) spender(20) from(20) to(20) amount(2+n)
func (w *WAL) encodeEntry(e *WALEntry) []byte {
	buf := w.buf[:0]

	buf = binary.LittleEndian.AppendUint64(buf, e.Seq)
	buf = append(buf, byte(e.Type))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))

	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Symbol)))
	buf = append(buf, e.Symbol...)

	buf = append(buf, e.Spender.Bytes()...)
	buf = append(buf, e.From.Bytes()...)
	buf = append(buf, e.To.Bytes()...)

	amount := e.Amount.String()
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(amount)))
	buf = append(buf, amount...)

	w.buf = buf
	return buf
}

func decodeEntry(data []byte) (*WALEntry, error) {
	const fixed = 8 + 1 + 8 + 2
	if len(data) < fixed {
		return nil, errors.New("data too short")
	}

	e := &WALEntry{}
	offset := 0

	e.Seq = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	e.Type = WALEntryType(data[offset])
	offset++
	e.Timestamp = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	symbolLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if len(data) < offset+symbolLen+3*common.AddressLength+2 {
		return nil, errors.New("data too short")
	}
	e.Symbol = string(data[offset : offset+symbolLen])
	offset += symbolLen

	e.Spender = common.BytesToAddress(data[offset : offset+common.AddressLength])
	offset += common.AddressLength
	e.From = common.BytesToAddress(data[offset : offset+common.AddressLength])
	offset += common.AddressLength
	e.To = common.BytesToAddress(data[offset : offset+common.AddressLength])
	offset += common.AddressLength

	amountLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if len(data) < offset+amountLen {
		return nil, errors.New("data too short")
	}
	amount, err := decimal.NewFromString(string(data[offset : offset+amountLen]))
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	e.Amount = amount

	return e, nil
}

// =============================================================================
// WAL 恢复
// =============================================================================

// Recover 读取 WAL 并逐条重放
func (w *WAL) Recover(applyFn func(*WALEntry) error) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return 0, err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	reader := bufio.NewReader(w.file)
	var lastSeq uint64

	for {
		var length uint32
		if err := binary.Read(reader, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return lastSeq, fmt.Errorf("read length: %w", err)
		}

		data := make([]byte, length)
		if _, err := io.ReadFull(reader, data); err != nil {
			return lastSeq, fmt.Errorf("read data: %w", err)
		}

		var crc uint32
		if err := binary.Read(reader, binary.LittleEndian, &crc); err != nil {
			return lastSeq, fmt.Errorf("read crc: %w", err)
		}
		if crc32.ChecksumIEEE(data) != crc {
			return lastSeq, errors.New("crc mismatch")
		}

		entry, err := decodeEntry(data)
		if err != nil {
			return lastSeq, fmt.Errorf("decode: %w", err)
		}
		if err := applyFn(entry); err != nil {
			return lastSeq, fmt.Errorf("apply seq %d: %w", entry.Seq, err)
		}
		lastSeq = entry.Seq
	}

	w.seq = lastSeq
	return lastSeq, nil
}
