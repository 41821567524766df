package models

import (
	"time"

	"gorm.io/datatypes"
)

// RoomDocument 房间文档持久化模型，整个房间以JSON保存
type RoomDocument struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	RoomID    string         `gorm:"uniqueIndex;size:6;not null" json:"room_id"`
	Status    string         `gorm:"index;size:16;not null" json:"status"`
	Version   int64          `gorm:"not null;default:0" json:"version"`
	Document  datatypes.JSON `gorm:"not null" json:"document"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `gorm:"index" json:"updated_at"`
}

// TableName 指定表名
func (RoomDocument) TableName() string {
	return "room_documents"
}

// GameResult 已结束对局的归档
type GameResult struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	RoomID      string         `gorm:"index;size:6;not null" json:"room_id"`
	WinnerID    string         `gorm:"size:64" json:"winner_id"`
	WinnerName  string         `gorm:"size:32" json:"winner_name"`
	Scores      datatypes.JSON `json:"scores"` // playerId -> {name, score}
	Turns       int            `json:"turns"`
	PlayerCount int            `json:"player_count"`
	DubitoMode  bool           `json:"dubito_mode"`
	EndedAt     time.Time      `gorm:"index" json:"ended_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName 指定表名
func (GameResult) TableName() string {
	return "game_results"
}

// ScoreEntry 归档中的单个玩家得分
type ScoreEntry struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}
