package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"

	"foliamail/backend/internal/domain"
)

// Codec 物品附件编解码接口。
//
// 产出的字节串对核心流程透明：只会整体写入/读出 mails.attachments
// 列，核心从不解释其内容。
type Codec interface {
	Serialize(items []domain.ItemStack) ([]byte, error)
	Deserialize(data []byte) ([]domain.ItemStack, error)
}

// GzipJSON 默认实现：JSON 编码后整体 gzip 压缩。
type GzipJSON struct{}

// NewGzipJSON 创建默认附件编解码器
func NewGzipJSON() *GzipJSON {
	return &GzipJSON{}
}

// Serialize 序列化物品附件，空列表返回 nil。
func (GzipJSON) Serialize(items []domain.ItemStack) ([]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress attachments: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress attachments: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize 反序列化物品附件，空数据返回空列表。
func (GzipJSON) Deserialize(data []byte) ([]domain.ItemStack, error) {
	if len(data) == 0 {
		return nil, nil
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress attachments: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress attachments: %w", err)
	}

	var items []domain.ItemStack
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	return items, nil
}
