package store

import (
	"encoding/json"
	"strings"

	apperrors "github.com/wfunc/bias-game/internal/errors"
	"github.com/wfunc/bias-game/internal/models"
)

const rootSegment = "rooms"

// RoomPath 房间文档路径
func RoomPath(roomID string, segments ...string) string {
	return strings.Join(append([]string{rootSegment, roomID}, segments...), "/")
}

// parsePath 解析 rooms/{roomId}/a/b，返回房间号和文档内的键路径
func parsePath(path string) (string, []string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != rootSegment || parts[1] == "" {
		return "", nil, apperrors.Newf(apperrors.ErrInvalidPath, "%q", path)
	}
	for _, p := range parts[2:] {
		if p == "" {
			return "", nil, apperrors.Newf(apperrors.ErrInvalidPath, "%q 含空段", path)
		}
	}
	return parts[1], parts[2:], nil
}

// toTree 将任意值转为 JSON 树（map[string]any / []any / 标量）
func toTree(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrValidation, "值无法序列化")
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal)
	}
	return tree, nil
}

// roomFromTree 将修改后的 JSON 树还原为房间；结构不符时返回 ErrValidation
func roomFromTree(tree map[string]any) (*models.Room, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal)
	}
	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, apperrors.New(apperrors.ErrValidation, "写入的值不符合房间文档结构").WithCause(err)
	}
	if room.Players == nil {
		room.Players = map[string]*models.Player{}
	}
	return &room, nil
}

func lookup(node any, segs []string) (any, bool) {
	for _, s := range segs {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = obj[s]; !ok {
			return nil, false
		}
	}
	return node, true
}

// parentOf 返回路径父对象，create 为真时补齐中间对象
func parentOf(root map[string]any, segs []string, create bool) (map[string]any, error) {
	node := root
	for _, s := range segs[:len(segs)-1] {
		next, ok := node[s]
		if !ok || next == nil {
			if !create {
				return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, "%s", strings.Join(segs, "/"))
			}
			child := map[string]any{}
			node[s] = child
			node = child
			continue
		}
		obj, ok := next.(map[string]any)
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrInvalidPath, "%s 不是对象", s)
		}
		node = obj
	}
	return node, nil
}

func setAt(root map[string]any, segs []string, value any) error {
	parent, err := parentOf(root, segs, true)
	if err != nil {
		return err
	}
	parent[segs[len(segs)-1]] = value
	return nil
}

func patchAt(root map[string]any, segs []string, fields map[string]any) error {
	target := root
	if len(segs) > 0 {
		parent, err := parentOf(root, segs, true)
		if err != nil {
			return err
		}
		key := segs[len(segs)-1]
		existing, ok := parent[key].(map[string]any)
		if !ok {
			if v, present := parent[key]; present && v != nil {
				return apperrors.Newf(apperrors.ErrInvalidPath, "%s 不是对象", key)
			}
			existing = map[string]any{}
			parent[key] = existing
		}
		target = existing
	}
	for k, v := range fields {
		tv, err := toTree(v)
		if err != nil {
			return err
		}
		target[k] = tv
	}
	return nil
}

func appendAt(root map[string]any, segs []string, value any) error {
	if len(segs) == 0 {
		return apperrors.New(apperrors.ErrInvalidPath, "不能向房间根追加")
	}
	parent, err := parentOf(root, segs, true)
	if err != nil {
		return err
	}
	key := segs[len(segs)-1]
	var list []any
	switch cur := parent[key].(type) {
	case nil:
	case []any:
		list = cur
	default:
		return apperrors.Newf(apperrors.ErrInvalidPath, "%s 不是列表", key)
	}
	parent[key] = append(list, value)
	return nil
}

func deleteAt(root map[string]any, segs []string) error {
	parent, err := parentOf(root, segs, false)
	if err != nil {
		return err
	}
	delete(parent, segs[len(segs)-1])
	return nil
}
