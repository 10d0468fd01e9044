package slot

import "errors"

// Slot ドメインのエラー定義
var (
	ErrSlotNotFound     = errors.New("スロットが見つかりません")
	ErrSlotUnavailable  = errors.New("スロットは既に確保されています")
	ErrCourtIDRequired  = errors.New("コートIDは必須です")
	ErrInvalidTimeRange = errors.New("開始時刻は終了時刻より前である必要があります")
	ErrInvalidPrice     = errors.New("価格は0以上である必要があります")
)
