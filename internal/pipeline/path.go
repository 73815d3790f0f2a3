// Copyright (c) 2025 Dulton. All rights reserved.
// Use of this source code is governed by the LiveMediaStreamer License
// that can be found in the LICENSE file.

package pipeline

// Path é uma rota declarada de um source a um sink: filtro de origem,
// filtro de destino, writer port na origem, reader port no destino e a
// lista ordenada de filtros intermediários. Criar o path apenas registra a
// intenção — as queues nascem no ConnectPath.
type Path struct {
	ID             int
	OriginFilterID int
	DestFilterID   int
	OriginWriterID int
	DestReaderID   int
	Intermediates  []int

	// links efetivados na conexão, em ordem origem→destino. Preenchido por
	// ConnectPath e usado no teardown reverso.
	links []pathLink
}

// pathLink registra uma ligação efetivada entre dois filtros consecutivos.
type pathLink struct {
	fromID   int
	writerID int
	toID     int
	readerID int
}

// Connected informa se o ConnectPath efetivou os links do path e o teardown
// do path ainda não os desfez. A vivacidade das queues não é verificada: um
// link desconectado fora do manager não altera o resultado.
func (p *Path) Connected() bool {
	return len(p.links) > 0
}

// chain devolve a sequência completa de filter ids, origem→destino.
func (p *Path) chain() []int {
	ids := make([]int, 0, len(p.Intermediates)+2)
	ids = append(ids, p.OriginFilterID)
	ids = append(ids, p.Intermediates...)
	ids = append(ids, p.DestFilterID)
	return ids
}
