// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package billing

import (
	"bytes"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
)

// Verifier 支付商签名：hex(md5(base64(body) + secret))
type Verifier struct {
	secret string
}

// NewVerifier secret 为空时所有回调都无法通过校验
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Sign 计算 body 的签名；同时用于创建发票请求
func (v *Verifier) Sign(body []byte) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + v.secret))
	return hex.EncodeToString(sum[:])
}

// Verify 常量时间比较；签名缺失或 secret 未配置返回 false
func (v *Verifier) Verify(body []byte, signature string) bool {
	if signature == "" || v.secret == "" {
		return false
	}
	expected := v.Sign(body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// VerifyRequest header 中有签名时对原始 body 校验；否则取 body 中的 sign 字段，对去掉该字段后的 body 校验
func (v *Verifier) VerifyRequest(body []byte, headerSign string) bool {
	if headerSign != "" {
		return v.Verify(body, headerSign)
	}
	var probe struct {
		Sign string `json:"sign"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Sign == "" {
		return false
	}
	return v.Verify(stripSign(body, probe.Sign), probe.Sign)
}

// stripSign 移除 "sign":"<value>" 及其相邻逗号，保持其余字节不变
func stripSign(body []byte, sign string) []byte {
	field := []byte(`"sign":"` + sign + `"`)
	for _, pat := range [][]byte{
		append([]byte(","), field...),
		append(append([]byte(nil), field...), ','),
		field,
	} {
		if i := bytes.Index(body, pat); i >= 0 {
			out := make([]byte, 0, len(body)-len(pat))
			out = append(out, body[:i]...)
			return append(out, body[i+len(pat):]...)
		}
	}
	return body
}
